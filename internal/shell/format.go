package shell

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dop251/goja"
)

const (
	maxStringLen = 1000
	maxArrayLen  = 20
)

// formatValue formats a goja value for display after "=>". It must run on
// the session loop. Undefined formats as the empty string.
func formatValue(vm *goja.Runtime, val goja.Value) string {
	if val == nil || goja.IsUndefined(val) {
		return ""
	}
	if goja.IsNull(val) {
		return "null"
	}

	if obj, ok := val.(*goja.Object); ok {
		if _, isFunc := goja.AssertFunction(obj); isFunc {
			return formatFunction(obj)
		}
		if obj.ClassName() == "Array" {
			return formatArray(vm, obj)
		}
		if s, ok := stringify(vm, obj); ok {
			return s
		}
		return obj.String()
	}

	if s, ok := val.Export().(string); ok {
		// Truncate very long strings on a character boundary
		if n := utf8.RuneCountInString(s); n > maxStringLen {
			return fmt.Sprintf("%q... (truncated, total %d chars)", string([]rune(s)[:maxStringLen]), n)
		}
		return fmt.Sprintf("%q", s)
	}
	return val.String()
}

func formatFunction(obj *goja.Object) string {
	name := ""
	if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
		name = v.String()
	}
	if name == "" {
		return "[Function (anonymous)]"
	}
	return fmt.Sprintf("[Function: %s]", name)
}

func formatArray(vm *goja.Runtime, obj *goja.Object) string {
	length := int(obj.Get("length").ToInteger())
	if length == 0 {
		return "[]"
	}

	shown := min(length, maxArrayLen)
	items := make([]string, 0, shown+1)
	for i := range shown {
		item := obj.Get(fmt.Sprint(i))
		if item == nil || goja.IsUndefined(item) {
			items = append(items, "undefined")
			continue
		}
		items = append(items, formatValue(vm, item))
	}
	if length > maxArrayLen {
		items = append(items, fmt.Sprintf("... (%d more items)", length-maxArrayLen))
	}
	return "[" + strings.Join(items, ", ") + "]"
}

// stringify renders obj with JSON.stringify. It fails for cyclic objects and
// for objects JSON cannot represent.
func stringify(vm *goja.Runtime, obj *goja.Object) (string, bool) {
	jsonObj := vm.Get("JSON")
	if jsonObj == nil {
		return "", false
	}
	fn, ok := goja.AssertFunction(jsonObj.ToObject(vm).Get("stringify"))
	if !ok {
		return "", false
	}
	out, err := fn(jsonObj, obj)
	if err != nil || out == nil || goja.IsUndefined(out) {
		return "", false
	}
	return out.String(), true
}

// errorMessage renders an evaluation error the way it was thrown.
func errorMessage(err error) string {
	if ex, ok := err.(*goja.Exception); ok && ex.Value() != nil {
		return ex.Value().String()
	}
	return err.Error()
}
