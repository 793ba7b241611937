// Package filter 基于CEL表达式的数据包显示过滤器
//
// 表达式可使用的变量：
//
//	protocol  string  TCP/UDP/ICMP/ARP/DNS/Other
//	src_ip    string  缺失时为空串
//	dst_ip    string
//	src_port  int     缺失时为-1
//	dst_port  int
//	length    int
//	info      string
//	query     string  DNS查询名
//
// 例如：protocol == "TCP" && dst_port == 443
package filter

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

// 编译缓存的上限，超过后整体清空
const maxCachedPrograms = 128

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error

	cacheMu sync.Mutex
	cache   = make(map[string]*Filter)
)

func celEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Declarations(
				decls.NewVar("protocol", decls.String),
				decls.NewVar("src_ip", decls.String),
				decls.NewVar("dst_ip", decls.String),
				decls.NewVar("src_port", decls.Int),
				decls.NewVar("dst_port", decls.Int),
				decls.NewVar("length", decls.Int),
				decls.NewVar("info", decls.String),
				decls.NewVar("query", decls.String),
			),
		)
	})
	return env, envErr
}

// Filter 编译后的过滤表达式，可并发使用
type Filter struct {
	Expression string
	program    cel.Program
}

// Compile 编译表达式，结果必须是布尔值
func Compile(expression string) (*Filter, error) {
	if expression == "" {
		return nil, fmt.Errorf("filter expression is empty")
	}

	cacheMu.Lock()
	if f, ok := cache[expression]; ok {
		cacheMu.Unlock()
		return f, nil
	}
	cacheMu.Unlock()

	e, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("create cel env failed: %v", err)
	}

	// 1.编译表达式，生成AST
	ast, iss := e.Compile(expression)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile expression failed: %v", iss.Err())
	}

	// 2.类型检查
	checked, iss := e.Check(ast)
	if iss.Err() != nil {
		return nil, fmt.Errorf("check expression failed: %v", iss.Err())
	}
	if !checked.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("filter must return bool, got %s", checked.OutputType().String())
	}

	// 3.将AST转换为程序Program
	program, err := e.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("create program failed: %v", err)
	}

	f := &Filter{Expression: expression, program: program}
	cacheMu.Lock()
	if len(cache) >= maxCachedPrograms {
		cache = make(map[string]*Filter)
	}
	cache[expression] = f
	cacheMu.Unlock()
	return f, nil
}

// Match 对单个摘要求值
func (f *Filter) Match(s types.PacketSummary) (bool, error) {
	result, _, err := f.program.Eval(buildEvalVars(s))
	if err != nil {
		return false, fmt.Errorf("evaluate filter failed: %v", err)
	}
	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter result is not boolean: %v", result.Value())
	}
	return matched, nil
}

// Apply 返回匹配的摘要，保持原有顺序，求值出错的条目视为不匹配
func (f *Filter) Apply(entries []types.PacketSummary) []types.PacketSummary {
	out := make([]types.PacketSummary, 0, len(entries))
	for _, s := range entries {
		if ok, err := f.Match(s); err == nil && ok {
			out = append(out, s)
		}
	}
	return out
}

func buildEvalVars(s types.PacketSummary) map[string]interface{} {
	src, dst := s.Addresses()
	srcPort, dstPort := int64(-1), int64(-1)
	if s.HasPorts {
		srcPort = int64(s.SrcPort)
		dstPort = int64(s.DstPort)
	}
	return map[string]interface{}{
		"protocol": s.Protocol.String(),
		"src_ip":   src,
		"dst_ip":   dst,
		"src_port": srcPort,
		"dst_port": dstPort,
		"length":   int64(s.Length),
		"info":     s.Info,
		"query":    s.Query,
	}
}
