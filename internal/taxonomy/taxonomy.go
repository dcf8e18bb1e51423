// Package taxonomy 提供技能分类体系：以稳定ID寻址的条目数组，关系用ID引用表达。
// 进程启动时加载一次，之后只读。
package taxonomy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry 分类体系中的一个技能条目
type Entry struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Aliases  []string `yaml:"aliases" json:"aliases,omitempty"`
	Category string   `yaml:"category" json:"category,omitempty"`
	Parent   string   `yaml:"parent" json:"parent,omitempty"`
	Related  []string `yaml:"related" json:"related,omitempty"`
}

// Label 返回用于向量化的标签文本
func (e *Entry) Label() string {
	if e.Name == "" {
		return e.ID
	}
	if e.Category == "" {
		return e.Name
	}
	return e.Name + " (" + e.Category + ")"
}

// AliasRef 别名索引中的一项
type AliasRef struct {
	ID        string
	Canonical bool // 别名即规范名称
	Tokens    int
}

// Taxonomy 技能分类体系
type Taxonomy struct {
	entries  []Entry
	byID     map[string]int
	aliases  map[string]AliasRef // 规范化别名 -> 条目
	children map[string][]string
	maxToks  int
}

type fileFormat struct {
	Skills []Entry `yaml:"skills"`
}

// Load 从YAML文件加载分类体系
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取分类文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析YAML格式的分类体系
func Parse(data []byte) (*Taxonomy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析分类文件失败: %w", err)
	}
	return New(f.Skills)
}

// New 由条目列表构建分类体系，校验ID唯一性与引用完整性
func New(entries []Entry) (*Taxonomy, error) {
	t := &Taxonomy{
		entries:  make([]Entry, 0, len(entries)),
		byID:     make(map[string]int, len(entries)),
		aliases:  make(map[string]AliasRef),
		children: make(map[string][]string),
	}
	for _, e := range entries {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			return nil, fmt.Errorf("taxonomy entry with empty id (name=%q)", e.Name)
		}
		if _, dup := t.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate taxonomy id %q", e.ID)
		}
		t.byID[e.ID] = len(t.entries)
		t.entries = append(t.entries, e)
	}

	for _, e := range t.entries {
		if e.Parent != "" {
			if _, ok := t.byID[e.Parent]; !ok {
				return nil, fmt.Errorf("taxonomy %q: unknown parent %q", e.ID, e.Parent)
			}
			t.children[e.Parent] = append(t.children[e.Parent], e.ID)
		}
		for _, r := range e.Related {
			if _, ok := t.byID[r]; !ok {
				return nil, fmt.Errorf("taxonomy %q: unknown related id %q", e.ID, r)
			}
		}

		t.addAlias(e.ID, e.ID, true)
		if e.Name != "" {
			t.addAlias(e.Name, e.ID, true)
		}
		for _, a := range e.Aliases {
			t.addAlias(a, e.ID, false)
		}
	}
	return t, nil
}

// 别名冲突时保留先出现的条目，规范名称优先于普通别名
func (t *Taxonomy) addAlias(surface, id string, canonical bool) {
	toks := Tokenize(surface)
	if len(toks) == 0 {
		return
	}
	key := strings.Join(toks, " ")
	if prev, ok := t.aliases[key]; ok {
		if prev.Canonical || !canonical {
			return
		}
	}
	t.aliases[key] = AliasRef{ID: id, Canonical: canonical, Tokens: len(toks)}
	if len(toks) > t.maxToks {
		t.maxToks = len(toks)
	}
}

// Get 按ID查询条目
func (t *Taxonomy) Get(id string) (*Entry, bool) {
	i, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return &t.entries[i], true
}

// Name 返回条目名称，不存在时返回ID本身
func (t *Taxonomy) Name(id string) string {
	if e, ok := t.Get(id); ok && e.Name != "" {
		return e.Name
	}
	return id
}

// LookupAlias 查询规范化后的别名短语
func (t *Taxonomy) LookupAlias(normalized string) (AliasRef, bool) {
	ref, ok := t.aliases[normalized]
	return ref, ok
}

// MaxAliasTokens 最长别名的词元数
func (t *Taxonomy) MaxAliasTokens() int { return t.maxToks }

// Entries 返回全部条目（按加载顺序），调用方不得修改
func (t *Taxonomy) Entries() []Entry { return t.entries }

// Len 条目数量
func (t *Taxonomy) Len() int { return len(t.entries) }

// Neighbors 返回图上一跳邻居：父节点、子节点、相关节点（去重并排序）
func (t *Taxonomy) Neighbors(id string) []string {
	e, ok := t.Get(id)
	if !ok {
		return nil
	}
	seen := map[string]struct{}{id: {}}
	var out []string
	add := func(n string) {
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if e.Parent != "" {
		add(e.Parent)
	}
	for _, c := range t.children[id] {
		add(c)
	}
	for _, r := range e.Related {
		add(r)
	}
	// 反向的 related 关系
	for _, other := range t.entries {
		for _, r := range other.Related {
			if r == id {
				add(other.ID)
			}
		}
	}
	sort.Strings(out)
	return out
}
