package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat 不支持的文件格式
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ReadHeaders 只读取文件表头，不解析数据行
// 支持 csv / xlsx / parquet
func ReadHeaders(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSVHeaders(path)
	case ".xlsx":
		return readXLSXHeaders(path)
	case ".parquet":
		return readParquetHeaders(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func readCSVHeaders(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err == io.EOF {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv headers: %w", err)
	}

	// 去除 UTF-8 BOM
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	return headers, nil
}

func readXLSXHeaders(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return []string{}, nil
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	if !rows.Next() {
		return []string{}, rows.Error()
	}
	headers, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read xlsx headers: %w", err)
	}
	return headers, nil
}

func readParquetHeaders(path string) ([]string, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet footer: %w", err)
	}
	defer pr.ReadStop()

	// 第一个元素是根节点，只取叶子列
	headers := make([]string, 0)
	for i, el := range pr.Footer.GetSchema() {
		if i == 0 || el.GetNumChildren() > 0 {
			continue
		}
		headers = append(headers, el.GetName())
	}
	return headers, nil
}
