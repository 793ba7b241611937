package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// NamedFilter 配置文件中的一条命名过滤器
type NamedFilter struct {
	Name        string `yaml:"name" json:"name"`
	State       string `yaml:"state" json:"state"` // enable/disable，空表示启用
	Description string `yaml:"description" json:"description"`
	Expression  string `yaml:"expression" json:"expression"`

	compiled *Filter
}

// Enabled 是否启用
func (n *NamedFilter) Enabled() bool {
	return n.State == "" || n.State == "enable"
}

// Filter 返回编译后的过滤器
func (n *NamedFilter) Filter() *Filter {
	return n.compiled
}

type filterFile struct {
	Filters []*NamedFilter `yaml:"filters"`
}

// Library 负责加载和管理命名过滤器
type Library struct {
	mu      sync.RWMutex
	filters map[string]*NamedFilter // key为过滤器名称
}

func NewLibrary() *Library {
	return &Library{
		filters: make(map[string]*NamedFilter),
	}
}

// LoadFile 从YAML文件加载过滤器，表达式在加载时编译
func (l *Library) LoadFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read filter file: %v", err)
	}

	var file filterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse filter file %s: %v", filePath, err)
	}

	loaded := make(map[string]*NamedFilter, len(file.Filters))
	for _, nf := range file.Filters {
		if nf == nil || nf.Name == "" {
			return fmt.Errorf("filter without name in %s", filePath)
		}
		if _, dup := loaded[nf.Name]; dup {
			return fmt.Errorf("duplicate filter %q in %s", nf.Name, filePath)
		}
		if !nf.Enabled() {
			logrus.Debugf("Skipping disabled filter %s", nf.Name)
			continue
		}
		compiled, err := Compile(nf.Expression)
		if err != nil {
			return fmt.Errorf("filter %q: %w", nf.Name, err)
		}
		nf.compiled = compiled
		loaded[nf.Name] = nf
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for name, nf := range loaded {
		l.filters[name] = nf
	}
	logrus.Infof("Loaded %d filters from %s", len(loaded), filePath)
	return nil
}

// LoadDirectory 加载目录下所有yaml文件
func (l *Library) LoadDirectory(dirPath string) error {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read filter dir: %v", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if ext := filepath.Ext(file.Name()); ext == ".yaml" || ext == ".yml" {
			if err := l.LoadFile(filepath.Join(dirPath, file.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get 根据名称获取过滤器
func (l *Library) Get(name string) (*NamedFilter, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	nf, ok := l.filters[name]
	return nf, ok
}

// List 按名称排序返回全部过滤器
func (l *Library) List() []*NamedFilter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*NamedFilter, 0, len(l.filters))
	for _, nf := range l.filters {
		out = append(out, nf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
