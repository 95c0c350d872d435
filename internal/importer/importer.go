package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/index"
	"plate-lookup/internal/repository"
)

// CreatedBy 批量导入写入的 createdBy
const CreatedBy = "batch-import-script"

const (
	colDocumentID    = "DocumentID"
	colHouseholdCode = "HouseholdCode"
	colNotes         = "Notes"
)

// ImportHeader 导入文件表头
var ImportHeader = []string{colDocumentID, colHouseholdCode, colNotes}

// ExportHeader 导出表头
var ExportHeader = []string{
	colDocumentID,
	colHouseholdCode,
	colNotes,
	"Created By",
	"Created At",
	"Last Updated By",
	"Updated At",
}

const exportSheet = "Plates"

var ErrMissingDocumentID = errors.New("missing DocumentID column")

// Row 导入文件中的一行
type Row struct {
	Line          int // 文件中的行号（表头为第 1 行）
	DocumentID    string
	HouseholdCode string
	Notes         string
}

// Result 导入结果
type Result struct {
	Total    int   `json:"total"`
	Imported int   `json:"imported"`
	Skipped  []int `json:"skipped"` // 没有 DocumentID 的行号
}

// ReadCSV 读取 CSV（首行为表头，列顺序不限）
func ReadCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return rowsFromTable(records)
}

// ReadXLSX 读取第一个工作表
func ReadXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Excel file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, errors.New("Excel file has no sheets")
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rowsFromTable(rows)
}

func rowsFromTable(table [][]string) ([]Row, error) {
	if len(table) == 0 {
		return []Row{}, nil
	}
	headerMap := make(map[string]int)
	for i, h := range table[0] {
		// 去掉 UTF-8 BOM
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		headerMap[h] = i
	}
	if _, ok := headerMap[colDocumentID]; !ok {
		return nil, ErrMissingDocumentID
	}

	cell := func(row []string, col string) string {
		idx, ok := headerMap[col]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	out := make([]Row, 0, len(table)-1)
	for i := 1; i < len(table); i++ {
		row := table[i]
		out = append(out, Row{
			Line:          i + 1,
			DocumentID:    cell(row, colDocumentID),
			HouseholdCode: cell(row, colHouseholdCode),
			Notes:         cell(row, colNotes),
		})
	}
	return out, nil
}

// Importer 批量导入 / 导出车牌
type Importer struct {
	store  repository.PlateStore
	logger *zap.Logger
	now    func() time.Time
}

func New(plateStore repository.PlateStore, logger *zap.Logger) *Importer {
	return &Importer{store: plateStore, logger: logger, now: time.Now}
}

// Import 一次原子批量写入全部有效行（覆盖写），没有 DocumentID 的行跳过
func (im *Importer) Import(ctx context.Context, c domain.Community, rows []Row) (*Result, error) {
	res := &Result{Total: len(rows), Skipped: []int{}}
	now := im.now()

	batch := im.store.NewBatch(c)
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		id := index.NormalizePlateID(row.DocumentID)
		if id == "" {
			res.Skipped = append(res.Skipped, row.Line)
			continue
		}
		// 同一 DocumentID 出现多次时后一行覆盖前一行
		seen[id] = struct{}{}
		code := strings.ToUpper(strings.TrimSpace(row.HouseholdCode))
		if code == "" {
			code = domain.PendingHouseholdCode
		}
		batch.SetPlate(&domain.PlateRecord{
			ID:             id,
			HouseholdCode:  code,
			Notes:          row.Notes,
			SearchKeywords: index.Keywords(id),
			CreatedBy:      CreatedBy,
			CreatedAt:      now,
		})
		im.logger.Debug("Plate queued for import", zap.String("plate_id", id))
	}

	if batch.Len() == 0 {
		return res, nil
	}
	if err := batch.Commit(ctx); err != nil {
		im.logger.Error("Batch import failed", zap.String("community", c.Suffix), zap.Error(err))
		return nil, fmt.Errorf("batch import: %w", err)
	}
	res.Imported = len(seen)
	im.logger.Info("Batch import finished",
		zap.String("community", c.Suffix),
		zap.Int("imported", res.Imported),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// Export 导出社区全部车牌为 xlsx
func (im *Importer) Export(ctx context.Context, c domain.Community) ([]byte, error) {
	plates, err := im.store.ListPlates(ctx, c)
	if err != nil {
		im.logger.Error("Export: plate scan failed", zap.String("community", c.Suffix), zap.Error(err))
		return nil, fmt.Errorf("list plates: %w", err)
	}
	return GeneratePlateExport(plates)
}

// GeneratePlateExport 生成车牌导出 Excel 文件；plates 为空时只有表头
func GeneratePlateExport(plates []*domain.PlateRecord) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 需要文件保持打开，不能 defer Close

	sheetIndex, err := f.NewSheet(exportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(sheetIndex)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	columnWidths := []float64{18, 16, 30, 22, 20, 22, 20}
	for col, header := range ExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(exportSheet, name, name, columnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, p := range plates {
		values := []any{
			p.ID,
			p.HouseholdCode,
			p.Notes,
			p.CreatedBy,
			formatTime(p.CreatedAt),
			p.LastUpdatedBy,
			formatTime(p.UpdatedAt),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(exportSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

// ReadFile 按扩展名选择 CSV / XLSX
func ReadFile(name string, r io.Reader) ([]Row, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".xlsx"):
		return ReadXLSX(r)
	case strings.HasSuffix(strings.ToLower(name), ".csv"):
		return ReadCSV(r)
	}
	return nil, fmt.Errorf("unsupported import file %q (want .csv or .xlsx)", name)
}
