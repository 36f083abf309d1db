package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"

	"forecaster/internal/model"
)

func TestCategorize_RetailColumns(t *testing.T) {
	t.Parallel()

	headers := []string{
		"product_id", "sku", "store_id", "location", "date", "week_ending",
		"sales_qty", "sales_value", "inventory", "price", "promotion_flag",
		"discount_pct", "category", "brand", "region",
	}

	got := Categorize(headers)

	want := model.DetectedColumns{
		Dimensions: model.Dimensions{
			Product:  []string{"product_id", "sku", "category", "brand"},
			Location: []string{"store_id", "location", "region"},
			Time:     []string{"date", "week_ending"},
		},
		Metrics:         []string{"sales_qty", "sales_value"},
		ExternalDrivers: []string{"promotion_flag", "discount_pct"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("categorize mismatch:\n got: %+v\nwant: %+v", got, want)
	}
}

func TestCategorize_MatchesNormalizedKeepsRawNames(t *testing.T) {
	t.Parallel()

	got := Categorize([]string{"  Order\tDate ", "  Order\tDate ", " ", "ＳＫＵ", " Sales Qty "})

	// 原始列名原样返回，提交的映射才能对应文件中的列
	if !reflect.DeepEqual(got.Dimensions.Time, []string{"  Order\tDate "}) {
		t.Fatalf("time = %q", got.Dimensions.Time)
	}
	// 全角字符经 NFKC 规范化后命中 sku
	if !reflect.DeepEqual(got.Dimensions.Product, []string{"ＳＫＵ"}) {
		t.Fatalf("product = %q", got.Dimensions.Product)
	}
	if !reflect.DeepEqual(got.Metrics, []string{" Sales Qty "}) {
		t.Fatalf("metrics = %q", got.Metrics)
	}
}

func TestReadHeaders_CSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(path, []byte("\ufeffsku,store_id,date,qty\nA,1,2024-01-01,3\n"), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	got, err := ReadHeaders(path)
	if err != nil {
		t.Fatalf("read headers: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"sku", "store_id", "date", "qty"}) {
		t.Fatalf("headers = %v", got)
	}
}

func TestReadHeaders_XLSX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sales.xlsx")
	f := excelize.NewFile()
	if err := f.SetSheetRow("Sheet1", "A1", &[]interface{}{"sku", "store_id", "date", "qty"}); err != nil {
		t.Fatalf("set row: %v", err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]interface{}{"A", 1, "2024-01-01", 3}); err != nil {
		t.Fatalf("set row: %v", err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save xlsx: %v", err)
	}
	_ = f.Close()

	got, err := ReadHeaders(path)
	if err != nil {
		t.Fatalf("read headers: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"sku", "store_id", "date", "qty"}) {
		t.Fatalf("headers = %v", got)
	}
}

func TestReadHeaders_Unsupported(t *testing.T) {
	t.Parallel()

	_, err := ReadHeaders("data.json")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLocalResolve(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(path, []byte("sku,store_id,date,qty\n"), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	got, err := Local{}.Resolve(context.Background(), model.FileRef{Path: path, Name: "sales.csv"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Total() != 4 {
		t.Fatalf("expected 4 columns, got %v", got.All())
	}
}

func TestChain_FallsBackToNextResolver(t *testing.T) {
	t.Parallel()

	failing := ResolverFunc(func(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
		return model.DetectedColumns{}, errors.New("backend down")
	})
	empty := ResolverFunc(func(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
		return model.DetectedColumns{}, nil
	})
	fallback := ResolverFunc(func(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
		return Categorize([]string{"sku", "date"}), nil
	})

	got, err := NewChain(nil, failing, empty, fallback).Resolve(context.Background(), model.FileRef{Name: "a.csv"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !reflect.DeepEqual(got.All(), []string{"sku", "date"}) {
		t.Fatalf("columns = %v", got.All())
	}
}

type detectorFunc func(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error)

func (f detectorFunc) DetectColumns(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
	return f(ctx, ref)
}

func TestChain_LocalThenRemote(t *testing.T) {
	t.Parallel()

	calls := 0
	remote := Remote{Detector: detectorFunc(func(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
		calls++
		return Categorize([]string{"item", "week", "sales_units"}), nil
	})}
	chain := NewChain(nil, Local{}, remote)

	// 本地可读时不请求后端
	path := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(path, []byte("sku,date\n"), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	got, err := chain.Resolve(context.Background(), model.FileRef{Path: path, Name: "sales.csv"})
	if err != nil {
		t.Fatalf("resolve csv: %v", err)
	}
	if !reflect.DeepEqual(got.All(), []string{"sku", "date"}) || calls != 0 {
		t.Fatalf("columns = %v, remote calls = %d", got.All(), calls)
	}

	// 本地不支持的格式交给后端
	got, err = chain.Resolve(context.Background(), model.FileRef{Path: "data.json", Name: "data.json"})
	if err != nil {
		t.Fatalf("resolve json: %v", err)
	}
	if calls != 1 || got.Total() != 3 {
		t.Fatalf("columns = %v, remote calls = %d", got.All(), calls)
	}
}

func TestRemote_RequiresDetector(t *testing.T) {
	t.Parallel()

	if _, err := (Remote{}).Resolve(context.Background(), model.FileRef{Name: "a.csv"}); err == nil {
		t.Fatal("expected error without detector")
	}
}

func TestChain_AllFail(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := ResolverFunc(func(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
		return model.DetectedColumns{}, boom
	})

	_, err := NewChain(nil, failing).Resolve(context.Background(), model.FileRef{Name: "a.csv"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}

	// 有一个返回空结果即不视为失败
	empty := ResolverFunc(func(ctx context.Context, ref model.FileRef) (model.DetectedColumns, error) {
		return model.DetectedColumns{}, nil
	})
	got, err := NewChain(nil, failing, empty).Resolve(context.Background(), model.FileRef{Name: "a.csv"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsEmpty() {
		t.Fatalf("expected empty columns, got %v", got.All())
	}
}
