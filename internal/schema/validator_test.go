package schema

import (
	"reflect"
	"testing"

	"forecaster/internal/model"
)

func salesColumns() model.DetectedColumns {
	return model.DetectedColumns{
		Dimensions: model.Dimensions{
			Product:  []string{"sku"},
			Location: []string{"store_id"},
			Time:     []string{"date"},
		},
		Metrics: []string{"qty"},
	}
}

func TestComputeValidation_AllRequiredMapped(t *testing.T) {
	t.Parallel()

	detected := salesColumns()
	mapping := model.MappingSet{
		"product":       "sku",
		"location":      "store_id",
		"time":          "date",
		"target_metric": "qty",
	}

	got := ComputeValidation(mapping, DefaultCatalog(), detected.Total())

	if !got.IsValid {
		t.Fatalf("expected valid, missing=%v", got.MissingRequired)
	}
	if len(got.MissingRequired) != 0 {
		t.Fatalf("unexpected missing: %v", got.MissingRequired)
	}
	if got.MappedCount != 4 {
		t.Fatalf("mappedCount = %d, want 4", got.MappedCount)
	}
	if got.TotalDetected != 4 {
		t.Fatalf("totalDetected = %d, want 4", got.TotalDetected)
	}
	if len(got.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", got.Warnings)
	}
}

func TestComputeValidation_OnlyProductMapped(t *testing.T) {
	t.Parallel()

	got := ComputeValidation(model.MappingSet{"product": "sku"}, DefaultCatalog(), 4)

	if got.IsValid {
		t.Fatal("expected invalid")
	}
	want := []string{"location", "time", "target_metric"}
	if !reflect.DeepEqual(got.MissingRequired, want) {
		t.Fatalf("missingRequired = %v, want %v", got.MissingRequired, want)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != WarningMapMoreFields {
		t.Fatalf("unexpected warnings: %v", got.Warnings)
	}
}

// 任一必填字段被移除（或置空）后，结果必须变为不合法
func TestComputeValidation_RemovingAnyRequiredFlips(t *testing.T) {
	t.Parallel()

	catalog := DefaultCatalog()
	full := model.MappingSet{}
	for _, f := range catalog {
		full[f.ID] = "col_" + f.ID
	}
	if !ComputeValidation(full, catalog, 12).IsValid {
		t.Fatal("full mapping should be valid")
	}

	for _, id := range catalog.Required() {
		for name, m := range map[string]model.MappingSet{
			"removed": func() model.MappingSet { c := full.Clone(); delete(c, id); return c }(),
			"emptied": full.With(id, "").With("x", "").Clone(),
			"blank":   func() model.MappingSet { c := full.Clone(); c[id] = ""; return c }(),
		} {
			got := ComputeValidation(m, catalog, 12)
			if got.IsValid {
				t.Fatalf("%s %s: expected invalid", name, id)
			}
			if !reflect.DeepEqual(got.MissingRequired, []string{id}) {
				t.Fatalf("%s %s: missing = %v", name, id, got.MissingRequired)
			}
		}
	}
}

func TestComputeValidation_PureAndRepeatable(t *testing.T) {
	t.Parallel()

	mapping := model.MappingSet{"product": "sku", "time": "date", "bogus": "x"}
	before := mapping.Clone()

	a := ComputeValidation(mapping, DefaultCatalog(), 5)
	b := ComputeValidation(mapping, DefaultCatalog(), 5)

	if !reflect.DeepEqual(a, b) {
		t.Fatalf("results differ:\n%+v\n%+v", a, b)
	}
	if !reflect.DeepEqual(mapping, before) {
		t.Fatalf("mapping mutated: %v", mapping)
	}

	// 修改第一次的结果不影响第二次
	a.MissingRequired[0] = "changed"
	a.Warnings = append(a.Warnings, "extra")
	if b.MissingRequired[0] == "changed" {
		t.Fatal("results share backing arrays")
	}
}

func TestComputeValidation_EmptyCatalogIsVacuouslyValid(t *testing.T) {
	t.Parallel()

	got := ComputeValidation(model.MappingSet{}, Catalog{}, 0)
	if !got.IsValid {
		t.Fatal("empty catalog should be valid")
	}
	if len(got.MissingRequired) != 0 {
		t.Fatalf("unexpected missing: %v", got.MissingRequired)
	}
	if len(got.Warnings) != 1 {
		t.Fatalf("expected advisory warning only, got %v", got.Warnings)
	}

	// 空目录不报告未知字段
	got = ComputeValidation(model.MappingSet{"a": "x", "b": "y", "c": "z", "d": "w"}, nil, 4)
	if !got.IsValid || len(got.Warnings) != 0 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestComputeValidation_AdvisoryWarnings(t *testing.T) {
	t.Parallel()

	mapping := model.MappingSet{
		"product":       "sku",
		"location":      "store_id",
		"time":          "date",
		"target_metric": "qty",
		"price":         "qty",
		"weather":       "temp",
	}
	got := ComputeValidation(mapping, DefaultCatalog(), 6)

	if !got.IsValid {
		t.Fatalf("advisory warnings must not block: %+v", got)
	}
	want := []string{
		`Unknown schema fields will be ignored: weather`,
		`Column "qty" is mapped to multiple fields: price, target_metric`,
	}
	if !reflect.DeepEqual(got.Warnings, want) {
		t.Fatalf("warnings = %#v, want %#v", got.Warnings, want)
	}
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	catalog := DefaultCatalog()
	product, _ := catalog.Field("product")
	brand, _ := catalog.Field("brand")

	if s := StatusOf(product, model.MappingSet{}); s != FieldStatusError {
		t.Fatalf("required unmapped = %s", s)
	}
	if s := StatusOf(product, model.MappingSet{"product": "sku"}); s != FieldStatusSuccess {
		t.Fatalf("required mapped = %s", s)
	}
	if s := StatusOf(brand, model.MappingSet{}); s != FieldStatusDefault {
		t.Fatalf("optional unmapped = %s", s)
	}
}

func TestSuggest(t *testing.T) {
	t.Parallel()

	detected := model.DetectedColumns{
		Dimensions: model.Dimensions{
			Product:  []string{"sku", "product_id"},
			Location: []string{"store_id"},
			Time:     []string{"week_ending"},
		},
		Metrics:         []string{"sales_value"},
		ExternalDrivers: []string{"promotion_flag"},
	}

	got := Suggest(DefaultCatalog(), detected)
	want := model.MappingSet{
		"product":       "product_id",
		"location":      "store_id",
		"time":          "week_ending",
		"target_metric": "sales_value",
		"promotion":     "promotion_flag",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("suggest = %v, want %v", got, want)
	}
}
