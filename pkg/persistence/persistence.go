package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/pkg/errors"

	"github.com/betbot/acdm/pkg/logger"
)

// Service 持久化后端。同一 id 下的多个 tag 组成一份快照。
type Service interface {
	NewStore(prefix, id, tag string) Store
	// Commit 写入一组已编码的 tag；Badger 后端在同一事务内提交，
	// JSON 后端先写完全部临时文件再依次 rename。
	Commit(prefix, id string, values map[string][]byte) error
}

// Store 单个 key 的读写
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

const tagName = "persistence"

func storeKey(prefix, id, tag string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, id, tag)
}

// JSONFileService 每个 key 一个 JSON 文件
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// path "state:acdm:platform" -> <baseDir>/state_acdm_platform.json
func (s *JSONFileService) path(key string) string {
	return filepath.Join(s.baseDir, keySanitizer.ReplaceAllString(key, "_")+".json")
}

// NewStore 创建新的存储
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &JSONFileStore{service: s, prefix: prefix, id: id, tag: tag}
}

// Commit 实现 Service
func (s *JSONFileService) Commit(prefix, id string, values map[string][]byte) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "create persistence dir")
	}

	staged := make(map[string]string, len(values))
	for tag, b := range values {
		path := s.path(storeKey(prefix, id, tag))
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, b, 0o644); err != nil {
			for _, t := range staged {
				_ = os.Remove(t)
			}
			return errors.Wrapf(err, "write %s", tmp)
		}
		staged[path] = tmp
	}
	for path, tmp := range staged {
		if err := os.Rename(tmp, path); err != nil {
			return errors.Wrapf(err, "rename %s", tmp)
		}
	}
	return nil
}

// JSONFileStore JSON 文件存储
type JSONFileStore struct {
	service         *JSONFileService
	prefix, id, tag string
}

// Save 写临时文件再 rename
func (s *JSONFileStore) Save(data interface{}) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshal %s", s.tag)
	}
	return s.service.Commit(s.prefix, s.id, map[string][]byte{s.tag: b})
}

// Load 加载数据
func (s *JSONFileStore) Load(data interface{}) error {
	path := s.service.path(storeKey(s.prefix, s.id, s.tag))
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return errors.Wrapf(err, "read %s", path)
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return errors.Wrapf(json.Unmarshal(b, data), "unmarshal %s", path)
}

type taggedField struct {
	name  string
	tag   string
	value reflect.Value
}

// taggedFields 顶层带 persistence tag 的字段，字段必须是导出的指针
func taggedFields(obj interface{}) ([]taggedField, error) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, errors.New("persistence: object must be a pointer to struct")
	}
	v = v.Elem()
	t := v.Type()

	var out []taggedField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get(tagName)
		if tag == "" || tag == "-" {
			continue
		}
		if !f.IsExported() || f.Type.Kind() != reflect.Ptr {
			return nil, errors.Errorf("persistence: field %s must be an exported pointer", f.Name)
		}
		out = append(out, taggedField{name: f.Name, tag: tag, value: v.Field(i)})
	}
	return out, nil
}

// SaveFields 编码全部非 nil 的带 tag 字段后一次提交；任一字段编码失败则什么都不写
func SaveFields(obj interface{}, id string, service Service) error {
	fields, err := taggedFields(obj)
	if err != nil {
		return err
	}
	values := make(map[string][]byte, len(fields))
	for _, f := range fields {
		if f.value.IsNil() {
			continue
		}
		b, err := json.Marshal(f.value.Interface())
		if err != nil {
			return errors.Wrapf(err, "marshal field %s", f.name)
		}
		values[f.tag] = b
	}
	if len(values) == 0 {
		return nil
	}
	logger.Debugf("[persistence] commit state:%s (%d fields)", id, len(values))
	return service.Commit("state", id, values)
}

// LoadFields 加载带 tag 的字段，返回实际加载的字段数；不存在的字段保持原值
func LoadFields(obj interface{}, id string, service Service) (int, error) {
	fields, err := taggedFields(obj)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, f := range fields {
		ptr := reflect.New(f.value.Type().Elem())
		if err := service.NewStore("state", id, f.tag).Load(ptr.Interface()); err != nil {
			if errors.Is(err, ErrNotExists) {
				continue
			}
			return loaded, errors.Wrapf(err, "load field %s", f.name)
		}
		f.value.Set(ptr)
		loaded++
	}
	return loaded, nil
}
