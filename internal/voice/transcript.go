// Package voice 语音查询：转写校正、车牌提取、播报格式化，以及监听/播报会话
package voice

import (
	"regexp"
	"strings"
)

// TriggerWord 语音中出现该词后才开始提取车牌
const TriggerWord = "查詢"

// correctionPairs 有序的同音/错字替换表
// 多字词在前；"查詢" 自映射放在 "查" 之前，避免重复校正时膨胀
var correctionPairs = []string{
	"茶尋", "查詢", "茶行", "查詢", "查尋", "查詢", "搜尋", "查詢", "尋找", "查詢",
	"查詢", "查詢", "查", "查詢",

	"還有", " ", "以及", " ", "再來", " ", "下一台", " ", "接著", " ", "空白", " ", "SPACE", " ",
	"和", " ", "跟", " ", "個", " ", "、", " ", "，", " ",

	"一", "1", "妖", "1", "么", "1", "要", "1", "依", "1",
	"二", "2", "愛", "2", "餓", "2", "兩", "2",
	"三", "3", "山", "3", "散", "3",
	"四", "4", "是", "4", "世", "4",
	"五", "5", "舞", "5", "無", "5",
	"六", "6", "溜", "6", "路", "6",
	"七", "7", "去", "7", "起", "7", "氣", "7", "拐", "7",
	"八", "8", "巴", "8", "發", "8", "爸", "8",
	"九", "9", "酒", "9", "久", "9", "勾", "9",
	"洞", "0", "動", "0", "孔", "0", "懂", "0", "零", "0",

	"ㄟ", "A", "逼", "B", "西", "C", "迪", "D",
}

var (
	correctionReplacer = strings.NewReplacer(correctionPairs...)

	disallowedChars = regexp.MustCompile(`[^A-Z0-9\s\x{4e00}-\x{9fa5}]`)
	nonAlnumRun     = regexp.MustCompile(`[^A-Z0-9]+`)
	digitsOnly      = regexp.MustCompile(`^[0-9]+$`)
	digitsLetters   = regexp.MustCompile(`^([0-9]+)([A-Z]+)$`)
	lettersDigits   = regexp.MustCompile(`^([A-Z]+)([0-9]+)$`)
	speechAlnum     = regexp.MustCompile(`([a-zA-Z0-9])`)
)

const maxCorrectionPasses = 8

// CorrectTranscript 校正语音转写：大写、查表替换、去掉字母数字/空白/中文以外的字符
// 重复执行直到结果稳定，已校正文本再校正不变
func CorrectTranscript(text string) string {
	out := correctOnce(text)
	for i := 1; i < maxCorrectionPasses; i++ {
		next := correctOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func correctOnce(text string) string {
	s := correctionReplacer.Replace(strings.ToUpper(text))
	return disallowedChars.ReplaceAllString(s, "")
}

// FormatLicensePlate 整理成标准车牌形状：纯数字不变，数字+字母 / 字母+数字 之间插入 "-"
func FormatLicensePlate(input string) string {
	clean := nonAlnumRun.ReplaceAllString(strings.ToUpper(input), "")
	switch {
	case digitsOnly.MatchString(clean):
		return clean
	case digitsLetters.MatchString(clean):
		return digitsLetters.ReplaceAllString(clean, "$1-$2")
	case lettersDigits.MatchString(clean):
		return lettersDigits.ReplaceAllString(clean, "$1-$2")
	}
	return clean
}

// ExtractBatchPlates 取最后一个 "查詢" 之后的内容，按非字母数字切分，保留长度 >= 2 的片段
func ExtractBatchPlates(text string) []string {
	content := text
	if i := strings.LastIndex(text, TriggerWord); i >= 0 {
		content = text[i+len(TriggerWord):]
	}
	out := []string{}
	for _, token := range nonAlnumRun.Split(content, -1) {
		if len(token) >= 2 {
			out = append(out, FormatLicensePlate(token))
		}
	}
	return out
}

// SearchLength 触发判断用的有效长度（不计 "-" 和空白）
func SearchLength(input string) int {
	n := 0
	for _, r := range input {
		if r == '-' || r == ' ' || r == '\t' || r == '\n' {
			continue
		}
		n++
	}
	return n
}

// FormatForSpeech isResult 时逐字播报：字母数字后补空格，"-" 变空格
func FormatForSpeech(text string, isResult bool) string {
	if !isResult {
		return text
	}
	return strings.ReplaceAll(speechAlnum.ReplaceAllString(text, "$1 "), "-", " ")
}
