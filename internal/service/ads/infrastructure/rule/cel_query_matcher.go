package rule

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/rs/zerolog/log"

	"adengine/internal/service/ads/domain"
)

// DefaultExpression 与 domain.MatchesQuery 的默认语义一致
const DefaultExpression = `(keyword == "" && category == "") ||
(category != "" && product.category.lowerAscii() == category.lowerAscii()) ||
(keyword != "" && (product.name.lowerAscii().contains(keyword) ||
  product.description.lowerAscii().contains(keyword) ||
  product.tags.exists(t, t.lowerAscii().contains(keyword))))`

// CELQueryMatcher 用 CEL 表达式判断商品是否命中查询，表达式可在配置中替换。
// 可用变量: product (name/description/category/tags), keyword (已转小写), category。
type CELQueryMatcher struct {
	expression string
	program    cel.Program
}

func NewCELQueryMatcher(expression string) (*CELQueryMatcher, error) {
	if strings.TrimSpace(expression) == "" {
		expression = DefaultExpression
	}
	env, err := cel.NewEnv(
		cel.Variable("product", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("keyword", cel.StringType),
		cel.Variable("category", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	ast, iss := env.Compile(expression)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile matcher expression: %w", iss.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("matcher expression must return bool, got %v", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build matcher program: %w", err)
	}
	return &CELQueryMatcher{expression: expression, program: prg}, nil
}

// MatchesQuery 求值出错时按不匹配处理
func (m *CELQueryMatcher) MatchesQuery(p domain.Product, q domain.QueryContext) bool {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	out, _, err := m.program.Eval(map[string]interface{}{
		"product": map[string]interface{}{
			"id":          p.ID,
			"name":        p.Name,
			"description": p.Description,
			"category":    p.Category,
			"tags":        tags,
		},
		"keyword":  strings.ToLower(strings.TrimSpace(q.Keyword)),
		"category": strings.TrimSpace(q.Category),
	})
	if err != nil {
		log.Warn().Err(err).Str("product", p.ID).Msg("cel matcher evaluation failed")
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
