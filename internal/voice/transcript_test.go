package voice

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrectTranscript(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"查詢 abc 一二三", "查詢 ABC 123"},
		{"茶尋 ABC-1234", "查詢 ABC1234"},
		{"搜尋八八八，ab", "查詢888 AB"},
		{"查 洞洞七", "查詢 007"},
		{"ㄟ逼 還有 九九", "AB   99"},
		{"space", " "},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CorrectTranscript(tt.in))
		})
	}
}

func TestCorrectTranscript_Idempotent(t *testing.T) {
	allowed := regexp.MustCompile(`^[A-Z0-9\s\x{4e00}-\x{9fa5}]*$`)
	inputs := []string{
		"查詢 abc-123",
		"查",
		"茶.尋 一二",
		"sp西e",
		"查詢查詢查",
		"下一台 xyz_99!",
		"",
	}
	for _, in := range inputs {
		once := CorrectTranscript(in)
		assert.Equal(t, once, CorrectTranscript(once), in)
		assert.Regexp(t, allowed, once, in)
	}
}

func TestFormatLicensePlate(t *testing.T) {
	assert.Equal(t, "1234", FormatLicensePlate("1234"))
	assert.Equal(t, "1234-AB", FormatLicensePlate("1234ab"))
	assert.Equal(t, "ABC-1234", FormatLicensePlate("abc 1234"))
	assert.Equal(t, "AB12C3", FormatLicensePlate("ab12c3"))
	assert.Equal(t, "ABC", FormatLicensePlate("abc"))
}

func TestExtractBatchPlates(t *testing.T) {
	assert.Equal(t, []string{"1234-AB"}, ExtractBatchPlates("查詢 ABC 123 查詢 1234AB X"))
	assert.Equal(t, []string{"ABC-1234", "5678"}, ExtractBatchPlates("查詢ABC1234 5678"))
	assert.Equal(t, []string{"XY-12"}, ExtractBatchPlates("XY12"))
	assert.Empty(t, ExtractBatchPlates("查詢 A"))
}

func TestSearchLength(t *testing.T) {
	assert.Equal(t, 6, SearchLength("ABC-1 23"))
	assert.Equal(t, 0, SearchLength(" - "))
}

func TestFormatForSpeech(t *testing.T) {
	assert.Equal(t, "車牌 ABC-12", FormatForSpeech("車牌 ABC-12", false))
	assert.Equal(t, "車牌 A B C  1 2 ", FormatForSpeech("車牌 ABC-12", true))
}
