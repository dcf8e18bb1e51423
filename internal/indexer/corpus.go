package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"career-agent-go/internal/types"
)

// corpusSchema 语料导入格式：{id, kind, title, text, taxonomy_tags, metadata} 数组
const corpusSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "kind", "text"],
    "properties": {
      "id": {"type": "string", "minLength": 1, "maxLength": 128},
      "kind": {"type": "string", "enum": ["job", "course"]},
      "title": {"type": "string"},
      "text": {"type": "string", "minLength": 1},
      "taxonomy_tags": {"type": "array", "items": {"type": "string"}},
      "metadata": {"type": "object", "additionalProperties": {"type": "string"}}
    },
    "additionalProperties": false
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(corpusSchema)

// FieldError 单个字段的校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CorpusValidationError 语料文件未通过校验
type CorpusValidationError struct {
	Errors []FieldError
}

func (e *CorpusValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "语料校验失败: " + strings.Join(parts, "; ")
}

// ParseCorpus 按 JSON Schema 校验并解析语料，同时检查ID唯一
func ParseCorpus(data []byte) ([]types.CorpusDocument, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("语料不是合法JSON: %w", err)
	}
	if !result.Valid() {
		verr := &CorpusValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
		for _, desc := range result.Errors() {
			field := desc.Field()
			if field == "" {
				field = "(root)"
			}
			verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
		}
		return nil, verr
	}

	var docs []types.CorpusDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("解析语料失败: %w", err)
	}
	if err := validateDocuments(docs); err != nil {
		return nil, err
	}
	return docs, nil
}

var validate = validator.New()

func validateDocuments(docs []types.CorpusDocument) error {
	seen := make(map[string]int, len(docs))
	for i := range docs {
		if err := validate.Struct(docs[i]); err != nil {
			return &CorpusValidationError{Errors: []FieldError{{Field: fmt.Sprintf("%d", i), Message: err.Error()}}}
		}
		if j, dup := seen[docs[i].ID]; dup {
			return &CorpusValidationError{Errors: []FieldError{{
				Field:   fmt.Sprintf("%d.id", i),
				Message: fmt.Sprintf("重复的ID %q（首次出现于 %d）", docs[i].ID, j),
			}}}
		}
		seen[docs[i].ID] = i
	}
	return nil
}

// LoadCorpusFile 读取并校验语料文件
func LoadCorpusFile(path string) ([]types.CorpusDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取语料文件 %s 失败: %w", path, err)
	}
	docs, err := ParseCorpus(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}
