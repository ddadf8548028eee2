package repository

import (
	"github.com/diillson/cloud-finops-engine/internal/domain/entity"
)

type ExportRepository interface {
	ExportToCSV(reports []entity.AggregatedReport, filename string, outputDir string) (string, error)
	ExportToJSON(reports []entity.AggregatedReport, filename string, outputDir string) (string, error)
	ExportToPDF(reports []entity.AggregatedReport, filename string, outputDir string) (string, error)
}
