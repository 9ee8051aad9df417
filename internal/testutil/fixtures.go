// Package testutil provides the shared entity model used by tests across the
// codebase. This follows the Go convention of a shared test utility package
// (like net/http/httptest).
package testutil

import (
	"reflect"
	"time"

	"dynfilter/model"
)

var (
	tBool    = reflect.TypeFor[bool]()
	tInt32   = reflect.TypeFor[int32]()
	tInt64   = reflect.TypeFor[int64]()
	tNInt64  = reflect.TypeFor[*int64]()
	tFloat64 = reflect.TypeFor[float64]()
	tString  = reflect.TypeFor[string]()
	tNTime   = reflect.TypeFor[*time.Time]()
)

// ShopModel returns a fresh model with:
//
//	ISoftDelete, ITenant          interfaces
//	Customer                      implements ITenant; Orders (many)
//	Order                         implements ISoftDelete, ITenant;
//	                              Customer (reference), Lines and Returns (many OrderLine)
//	OrderLine                     implements ISoftDelete
//	Person <- Employee            per-type inheritance, Employee in table Employees
//	Department                    Manager (reference to Person, no FK metadata)
//
// Customer.Name is stored in column customer_name.
func ShopModel() *model.Model {
	m := model.New()
	must(m.AddInterface(&model.Interface{
		Name:       "ISoftDelete",
		Properties: []model.Property{{Name: "IsDeleted", Type: tBool}},
	}))
	must(m.AddInterface(&model.Interface{
		Name:       "ITenant",
		Properties: []model.Property{{Name: "TenantID", Type: tInt64}},
	}))

	must(m.AddEntity(&model.EntityType{
		Name:       "Customer",
		Table:      "Customers",
		Interfaces: []string{"ITenant"},
		Properties: []model.Property{
			{Name: "Id", Type: tInt64, Key: true},
			{Name: "Name", Column: "customer_name", Type: tString},
			{Name: "IsActive", Type: tBool},
			{Name: "TenantID", Type: tInt64},
		},
		Navigations: []model.Navigation{
			{Name: "Orders", Target: "Order", Many: true, FK: fk("Id", "CustomerId")},
		},
	}))
	must(m.AddEntity(&model.EntityType{
		Name:       "Order",
		Table:      "Orders",
		Interfaces: []string{"ISoftDelete", "ITenant"},
		Properties: []model.Property{
			{Name: "Id", Type: tInt64, Key: true},
			{Name: "CustomerId", Type: tInt64},
			{Name: "IsActive", Type: tBool},
			{Name: "IsDeleted", Type: tBool},
			{Name: "TenantID", Type: tInt64},
			{Name: "Amount", Type: tFloat64},
			{Name: "Status", Type: tString},
			{Name: "ShippedAt", Type: tNTime},
		},
		Navigations: []model.Navigation{
			{Name: "Customer", Target: "Customer", FK: fk("CustomerId", "Id")},
			{Name: "Lines", Target: "OrderLine", Many: true, FK: fk("Id", "OrderId")},
			{Name: "Returns", Target: "OrderLine", Many: true, FK: fk("Id", "ReturnOrderId")},
		},
	}))
	must(m.AddEntity(&model.EntityType{
		Name:       "OrderLine",
		Table:      "OrderLines",
		Interfaces: []string{"ISoftDelete"},
		Properties: []model.Property{
			{Name: "Id", Type: tInt64, Key: true},
			{Name: "OrderId", Type: tInt64},
			{Name: "ReturnOrderId", Type: tNInt64},
			{Name: "Product", Type: tString},
			{Name: "Quantity", Type: tInt32},
			{Name: "IsDeleted", Type: tBool},
		},
	}))

	must(m.AddEntity(&model.EntityType{
		Name:  "Person",
		Table: "People",
		Properties: []model.Property{
			{Name: "Id", Type: tInt64, Key: true},
			{Name: "Name", Type: tString},
			{Name: "IsActive", Type: tBool},
		},
	}))
	must(m.AddEntity(&model.EntityType{
		Name:        "Employee",
		Table:       "Employees",
		Base:        "Person",
		Inheritance: model.PerType,
		Properties: []model.Property{
			{Name: "Salary", Type: tFloat64},
			{Name: "Department", Type: tString},
		},
	}))
	must(m.AddEntity(&model.EntityType{
		Name:  "Department",
		Table: "Departments",
		Properties: []model.Property{
			{Name: "Id", Type: tInt64, Key: true},
			{Name: "Name", Type: tString},
			{Name: "ManagerId", Type: tInt64},
		},
		Navigations: []model.Navigation{
			{Name: "Manager", Target: "Person"},
		},
	}))
	return m
}

func fk(from, to string) *model.ForeignKey {
	return &model.ForeignKey{Pairs: []model.ColumnPair{{From: from, To: to}}}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
