package taxonomy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Role 岗位技能画像：taxonomy_id -> 相对权重
type Role struct {
	Name   string             `yaml:"name" json:"name"`
	Skills map[string]float64 `yaml:"skills" json:"skills"`
}

// RoleCatalog 岗位目录，启动时加载一次
type RoleCatalog struct {
	roles []Role
	byKey map[string]int
}

type roleFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadRoles 从YAML文件加载岗位目录，并校验技能ID存在于分类体系中
func LoadRoles(path string, tax *Taxonomy) (*RoleCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取岗位目录失败: %w", err)
	}
	var f roleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析岗位目录失败: %w", err)
	}
	return NewRoleCatalog(f.Roles, tax)
}

// NewRoleCatalog 构建岗位目录；tax 为 nil 时跳过ID校验
func NewRoleCatalog(roles []Role, tax *Taxonomy) (*RoleCatalog, error) {
	c := &RoleCatalog{byKey: make(map[string]int, len(roles))}
	for _, r := range roles {
		key := Key(r.Name)
		if key == "" {
			return nil, fmt.Errorf("role with empty name")
		}
		if _, dup := c.byKey[key]; dup {
			return nil, fmt.Errorf("duplicate role %q", r.Name)
		}
		if tax != nil {
			for id := range r.Skills {
				if _, ok := tax.Get(id); !ok {
					return nil, fmt.Errorf("role %q references unknown skill %q", r.Name, id)
				}
			}
		}
		c.byKey[key] = len(c.roles)
		c.roles = append(c.roles, r)
	}
	return c, nil
}

// Lookup 按名称（大小写与标点不敏感）查找岗位
func (c *RoleCatalog) Lookup(name string) (*Role, bool) {
	if c == nil {
		return nil, false
	}
	i, ok := c.byKey[Key(name)]
	if !ok {
		return nil, false
	}
	return &c.roles[i], true
}

// Roles 返回按名称排序的岗位列表
func (c *RoleCatalog) Roles() []Role {
	if c == nil {
		return nil
	}
	out := make([]Role, len(c.roles))
	copy(out, c.roles)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
