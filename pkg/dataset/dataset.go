// Package dataset describes one extraction job and the object-store layout derived from it.
package dataset

import (
	"fmt"
	"path"
	"strings"
)

// RootPrefix is the top-level folder every dataset writes under.
const RootPrefix = "raw"

// Descriptor identifies one extraction job. It is immutable and supplied by configuration.
type Descriptor struct {
	// Endpoint is the API path, e.g. "/sales".
	Endpoint string `yaml:"endpoint"`

	// Folder is the storage folder under RootPrefix, e.g. "fact_sales".
	Folder string `yaml:"folder"`

	// FileBaseName names both the marker blob and the partition CSV files.
	FileBaseName string `yaml:"filename"`

	// DateField is the flattened field holding the UTC timestamp, e.g. "attributes.createdAt".
	DateField string `yaml:"date_column"`
}

// Validate reports the first missing field.
func (d Descriptor) Validate() error {
	switch {
	case strings.TrimSpace(d.Endpoint) == "":
		return fmt.Errorf("dataset endpoint is required")
	case strings.TrimSpace(d.Folder) == "":
		return fmt.Errorf("dataset %q: folder is required", d.Endpoint)
	case strings.TrimSpace(d.FileBaseName) == "":
		return fmt.Errorf("dataset %q: filename is required", d.Endpoint)
	case strings.TrimSpace(d.DateField) == "":
		return fmt.Errorf("dataset %q: date_column is required", d.Endpoint)
	}
	return nil
}

// Name is the label used in logs and metrics.
func (d Descriptor) Name() string {
	return d.FileBaseName
}

// MarkerKey returns raw/{folder}/{file_base_name}_log.txt.
func (d Descriptor) MarkerKey() string {
	return path.Join(RootPrefix, d.Folder, d.FileBaseName+"_log.txt")
}

// PartitionPrefix returns raw/{folder}/ which contains every date=... partition.
func (d Descriptor) PartitionPrefix() string {
	return path.Join(RootPrefix, d.Folder) + "/"
}

// PartitionKey returns raw/{folder}/date={YYYY-MM-DD}/{file_base_name}.csv.
func (d Descriptor) PartitionKey(date string) string {
	return path.Join(RootPrefix, d.Folder, "date="+date, d.FileBaseName+".csv")
}
