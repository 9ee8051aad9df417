package sqlgen

import (
	"fmt"

	"dynfilter/internal/ddl"
	"dynfilter/model"
	"dynfilter/plan"
)

// CreateTables returns one CREATE TABLE statement per storage unit of m, in
// model order, typed for d.
func CreateTables(m *model.Model, d Dialect) ([]string, error) {
	var out []string
	for _, et := range m.Entities() {
		if !et.OwnsTable() {
			continue
		}
		keys := make(map[string]bool)
		for _, k := range et.Keys() {
			keys[k.Name] = true
		}
		var cols []ddl.ColumnDef
		for _, p := range et.StorageProperties() {
			typ, err := plan.TypeFor(p.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", et.Name, p.Name, err)
			}
			cols = append(cols, ddl.ColumnDef{Name: p.ColumnName(), Type: d.ColumnType(typ), PrimaryKey: keys[p.Name]})
		}
		stmt, err := ddl.CreateTable(et.TableName(), cols)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", et.Name, err)
		}
		out = append(out, stmt)
	}
	return out, nil
}

// DropTables returns one DROP TABLE IF EXISTS statement per storage unit of
// m, derived units first.
func DropTables(m *model.Model) ([]string, error) {
	ets := m.Entities()
	var out []string
	for i := len(ets) - 1; i >= 0; i-- {
		if !ets[i].OwnsTable() {
			continue
		}
		stmt, err := ddl.DropTable(ets[i].TableName())
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", ets[i].Name, err)
		}
		out = append(out, stmt)
	}
	return out, nil
}
