package pathsource

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/langchou/swervegazer/internal/pathing"
)

const fileExt = ".json"

// ErrInvalidID 路径 ID 含有不允许的字符
var ErrInvalidID = errors.New("invalid path id")

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Dir 存放路径编辑器导出文件的目录，文件名即路径 ID
type Dir struct {
	root   string
	logger *zap.Logger
}

// NewDir 创建目录来源
func NewDir(root string, logger *zap.Logger) *Dir {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dir{root: root, logger: logger}
}

func (d *Dir) file(id string) (string, error) {
	if !validID.MatchString(id) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%q: %w", id, ErrInvalidID)
	}
	return filepath.Join(d.root, id+fileExt), nil
}

// Get 读取并校验路径，文件不存在时返回的错误满足 errors.Is(err, os.ErrNotExist)
func (d *Dir) Get(id string) (*pathing.Path, error) {
	name, err := d.file(id)
	if err != nil {
		return nil, err
	}
	return LoadFile(name)
}

// List 读取目录中所有可解析的路径，无法解析的文件记录日志后跳过
func (d *Dir) List() ([]*pathing.Path, error) {
	entries, err := os.ReadDir(d.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read path dir: %w", err)
	}

	var paths []*pathing.Path
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		p, err := LoadFile(filepath.Join(d.root, e.Name()))
		if err != nil {
			d.logger.Warn("Skipping unreadable path file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].ID < paths[j].ID })
	return paths, nil
}

// Import 校验路径编辑器文件并写入目录，返回解析后的路径
func (d *Dir) Import(id string, raw []byte) (*pathing.Path, error) {
	name, err := d.file(id)
	if err != nil {
		return nil, err
	}
	p, err := Decode(bytes.NewReader(raw), id)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return nil, fmt.Errorf("create path dir: %w", err)
	}
	if err := os.WriteFile(name, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write path file: %w", err)
	}
	d.logger.Info("Imported path file", zap.String("path_id", id), zap.String("name", p.Name))
	return p, nil
}
