package drift

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tidemark/conflux/errors"
)

// SchemaFile is the on-disk format for expected schemas, one field →
// type mapping per source:
//
//	sources:
//	  csv:
//	    id: string
//	    price_usd: float
//	  rss:
//	    guid: string
//	    title: string
type SchemaFile struct {
	Sources map[string]map[string]string `yaml:"sources"`
}

// LoadSchemas reads expected schemas from a YAML file.
func LoadSchemas(path string) (map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read schema file %s", path)
	}

	var file SchemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parse schema file %s", path)
	}
	if len(file.Sources) == 0 {
		return nil, errors.Newf("schema file %s defines no sources", path)
	}
	return file.Sources, nil
}
