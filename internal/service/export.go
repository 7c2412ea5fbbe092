package service

import (
	"context"
	"fmt"
	"io"

	"github.com/tealeg/xlsx"

	"github.com/flicky/go-storefront/internal/model"
)

var productExportHeader = []string{"ID", "Name", "Category", "Price", "Stock", "Created"}

// ExportProducts writes the whole catalog as an xlsx workbook.
func (s *ProductService) ExportProducts(ctx context.Context, w io.Writer) error {
	products, err := s.productRepo.List(ctx, model.ProductFilter{Sort: model.SortName})
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Products")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	header := sheet.AddRow()
	for _, h := range productExportHeader {
		header.AddCell().SetValue(h)
	}
	for _, p := range products {
		row := sheet.AddRow()
		row.AddCell().SetValue(p.ID)
		row.AddCell().SetValue(p.Name)
		row.AddCell().SetValue(p.Category)
		row.AddCell().SetValue(p.Price.InexactFloat64())
		row.AddCell().SetValue(p.Stock)
		row.AddCell().SetValue(p.CreatedAt.Format("2006-01-02 15:04"))
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
