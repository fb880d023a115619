package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Pinman777/PBGui-TEST/internal/logger"
	"github.com/Pinman777/PBGui-TEST/internal/market"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// 参数表只允许标量值，复合结构一律拒绝，避免生产器收到无法解释的输入。
const paramSchemaJSON = `{
	"type": "object",
	"additionalProperties": {
		"type": ["number", "integer", "string", "boolean"]
	}
}`

var paramSchema = jsonschema.MustCompileString("parameters.json", paramSchemaJSON)

// ValidateParameters 校验策略参数表。
func ValidateParameters(params map[string]any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := paramSchema.Validate(doc); err != nil {
		return &market.ValidationError{Field: "parameters", Reason: err.Error()}
	}
	return nil
}

// Store 以每策略一个 JSON 文件的形式持久化，目录变更时自动重载。
type Store struct {
	dir     string
	watcher *fsnotify.Watcher

	mu         sync.RWMutex
	strategies map[string]Strategy

	closeOnce sync.Once
	done      chan struct{}
}

// NewStore 打开（必要时创建）策略目录并加载全部配置。
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("strategy store requires dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create strategy dir failed: %w", err)
	}
	s := &Store{
		dir:        dir,
		strategies: make(map[string]Strategy),
		done:       make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create strategy watcher failed: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch strategy dir failed: %w", err)
	}
	s.watcher = watcher
	go s.watch()
	return s, nil
}

func (s *Store) watch() {
	// 编辑器保存常触发连续事件，聚合后整目录重载一次。
	var pending bool
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-s.done:
			return
		case evt, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(evt.Name, ".json") {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(200 * time.Millisecond)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("strategy watcher error: %v", err)
		case <-timer.C:
			pending = false
			if err := s.reload(); err != nil {
				logger.Errorf("strategy reload failed: %v", err)
			}
		}
	}
}

// Close 停止目录监听。
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

func (s *Store) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read strategy dir failed: %w", err)
	}
	loaded := make(map[string]Strategy)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			logger.Warnf("read strategy file failed %s: %v", entry.Name(), err)
			continue
		}
		var st Strategy
		if err := json.Unmarshal(raw, &st); err != nil {
			logger.Warnf("parse strategy file failed %s: %v", entry.Name(), err)
			continue
		}
		if err := st.Normalize(); err != nil {
			logger.Warnf("invalid strategy file %s: %v", entry.Name(), err)
			continue
		}
		loaded[st.ID] = st
	}
	s.mu.Lock()
	s.strategies = loaded
	s.mu.Unlock()
	return nil
}

// Create 新建并落盘。
func (s *Store) Create(name, description, author string) (Strategy, error) {
	st := New(name, description, author)
	if err := s.Save(st); err != nil {
		return Strategy{}, err
	}
	return st, nil
}

// Save 校验后写盘（临时文件 + rename），并更新内存表。
func (s *Store) Save(st Strategy) error {
	if err := st.Normalize(); err != nil {
		return err
	}
	if err := ValidateParameters(st.Parameters); err != nil {
		return err
	}
	st.UpdatedAt = time.Now().UnixMilli()
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, st.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write strategy failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write strategy failed: %w", err)
	}
	s.mu.Lock()
	s.strategies[st.ID] = st
	s.mu.Unlock()
	return nil
}

// Get 按 ID 取回。
func (s *Store) Get(id string) (Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[strings.TrimSpace(id)]
	if !ok {
		return Strategy{}, market.ErrNotFound
	}
	return st, nil
}

// List 按名称排序返回全部策略。
func (s *Store) List() []Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Strategy, 0, len(s.strategies))
	for _, st := range s.strategies {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Delete 删除文件与内存条目。
func (s *Store) Delete(id string) error {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	_, ok := s.strategies[id]
	delete(s.strategies, id)
	s.mu.Unlock()
	if !ok {
		return market.ErrNotFound
	}
	if err := os.Remove(filepath.Join(s.dir, id+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete strategy failed: %w", err)
	}
	return nil
}

// ImportYAML 导入一段 YAML 描述的策略，未带 ID 时自动分配。
func (s *Store) ImportYAML(raw []byte) (Strategy, error) {
	var st Strategy
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&st); err != nil {
		return Strategy{}, &market.ValidationError{Field: "yaml", Reason: err.Error()}
	}
	if err := s.Save(st); err != nil {
		return Strategy{}, err
	}
	return st, nil
}

// ExportJSON 返回策略的 JSON 文档。
func (s *Store) ExportJSON(id string) ([]byte, error) {
	st, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(st, "", "  ")
}
