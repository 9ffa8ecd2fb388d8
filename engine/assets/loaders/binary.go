package loaders

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/sonar/engine/resources"
)

type BinaryLoader struct{}

// Load reads the whole file. params may be a map holding the resource name
// under "name"; the file name without extension is used otherwise.
func (bl *BinaryLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("binary file %s is empty", path)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if p, ok := params.(map[string]string); ok && p["name"] != "" {
		name = p["name"]
	}

	return &resources.Resource{
		Name:     name,
		FullPath: path,
		Type:     resources.ResourceTypeBinary,
		DataSize: uint64(len(buf)),
		Data:     buf,
	}, nil
}

func (bl *BinaryLoader) Unload(res *resources.Resource) error {
	res.Data = nil
	res.DataSize = 0
	return nil
}
