package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/domain/message"
	"github.com/Strob0t/reactor/internal/domain/principal"
	"github.com/Strob0t/reactor/internal/port/platform"
)

// Globals lists every non-ECMAScript global a script can see.
var Globals = []string{"async", "log", "nitrogen", "params", "session", "setTimeout", "setInterval"}

// bind installs the capability set into vm.
func (t *Task) bind(vm *goja.Runtime) error {
	if _, err := vm.RunProgram(asyncPrelude); err != nil {
		return fmt.Errorf("async prelude: %w", err)
	}

	params, err := t.paramsValue(vm)
	if err != nil {
		return err
	}

	globals := map[string]any{
		"log":         t.logObject(vm),
		"nitrogen":    t.nitrogenObject(vm),
		"params":      params,
		"session":     t.sessionObject(vm, t.caps.Session),
		"setTimeout":  t.timerFunc(vm, false),
		"setInterval": t.timerFunc(vm, true),
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

func (t *Task) paramsValue(vm *goja.Runtime) (goja.Value, error) {
	if len(t.caps.Params) == 0 {
		return vm.NewObject(), nil
	}
	var v any
	if err := json.Unmarshal(t.caps.Params, &v); err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	return vm.ToValue(v), nil
}

// --- log ---

func (t *Task) logObject(vm *goja.Runtime) *goja.Object {
	o := vm.NewObject()
	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, level := range levels {
		_ = o.Set(name, func(call goja.FunctionCall) goja.Value {
			t.log.Log(t.ctx, level, formatArgs(call.Arguments))
			return goja.Undefined()
		})
	}
	return o
}

func formatArgs(args []goja.Value) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatValue(a))
	}
	return strings.Join(parts, " ")
}

func formatValue(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	if _, isFn := goja.AssertFunction(v); !isFn {
		if _, isObj := v.(*goja.Object); isObj {
			if b, err := json.Marshal(v.Export()); err == nil {
				return string(b)
			}
		}
	}
	return v.String()
}

// --- timers ---

func (t *Task) timerFunc(vm *goja.Runtime, repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("callback must be a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		if repeat && delay < time.Millisecond {
			delay = time.Millisecond
		}
		var extra []goja.Value
		if len(call.Arguments) > 2 {
			extra = append(extra, call.Arguments[2:]...)
		}

		t.nextID++
		id := t.nextID
		var fire func()
		fire = func() {
			t.enqueue(func(*goja.Runtime) error {
				if _, live := t.timers[id]; !live {
					return nil
				}
				if repeat {
					t.timers[id] = time.AfterFunc(delay, fire)
				} else {
					delete(t.timers, id)
				}
				_, err := fn(goja.Undefined(), extra...)
				return err
			})
		}
		t.timers[id] = time.AfterFunc(delay, fire)
		return vm.ToValue(id)
	}
}

// --- session ---

// sessionObject exposes s to scripts. The Go session stays on the host side,
// keyed by the returned object.
func (t *Task) sessionObject(vm *goja.Runtime, s platform.Session) goja.Value {
	if s == nil {
		return goja.Null()
	}
	o := vm.NewObject()
	_ = o.Set("principal", principalValue(vm, s.Principal()))
	_ = o.Set("onMessage", func(call goja.FunctionCall) goja.Value {
		filter := messageFilter(call.Argument(0))
		handler, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError("onMessage handler must be a function"))
		}
		cancel, err := s.Subscribe(t.ctx, filter, func(_ context.Context, m message.Message) {
			t.enqueue(func(vm *goja.Runtime) error {
				_, err := handler(goja.Undefined(), messageValue(vm, m))
				return err
			})
		})
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("subscribe: %w", err)))
		}
		t.cleanup = append(t.cleanup, cancel)
		return goja.Undefined()
	})
	t.sessions[o] = s
	return o
}

func (t *Task) sessionOf(vm *goja.Runtime, v goja.Value) platform.Session {
	o, ok := v.(*goja.Object)
	if ok {
		if s, found := t.sessions[o]; found {
			return s
		}
	}
	panic(vm.NewTypeError("first argument must be a session"))
}

// --- nitrogen ---

func (t *Task) nitrogenObject(vm *goja.Runtime) *goja.Object {
	n := vm.NewObject()

	// new nitrogen.Principal({...}) only wraps fields for the predicates.
	// Sessions and credentials are never constructible from a script.
	p := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		var pr principal.Principal
		if src, ok := call.Argument(0).(*goja.Object); ok {
			pr = principal.Principal{
				ID:     stringField(src, "id"),
				Type:   principal.Type(stringField(src, "principal_type")),
				Name:   stringField(src, "name"),
				LastIP: stringField(src, "last_ip"),
				Owner:  stringField(src, "owner"),
			}
		}
		return principalValue(vm, pr)
	}).(*goja.Object)
	_ = p.Set("find", func(call goja.FunctionCall) goja.Value {
		s := t.sessionOf(vm, call.Argument(0))
		q := principalQuery(call.Argument(1))
		cb := callback(vm, call.Argument(2))
		t.goAsync(func(ctx context.Context) (any, error) {
			found, err := s.FindPrincipals(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrLookup, err)
			}
			return found, nil
		}, func(vm *goja.Runtime, res any, err error) error {
			if err != nil {
				_, cbErr := cb(goja.Undefined(), vm.NewGoError(err))
				return cbErr
			}
			found, _ := res.([]principal.Principal)
			values := make([]any, 0, len(found))
			for _, pr := range found {
				values = append(values, principalValue(vm, pr))
			}
			_, cbErr := cb(goja.Undefined(), goja.Null(), vm.NewArray(values...))
			return cbErr
		})
		return goja.Undefined()
	})
	_ = n.Set("Principal", p)

	_ = n.Set("Message", func(call goja.ConstructorCall) *goja.Object {
		this := call.This
		if len(call.Arguments) > 0 {
			if src, ok := call.Argument(0).(*goja.Object); ok {
				for _, k := range []string{"id", "message_type", "from", "to", "body"} {
					if v := src.Get(k); v != nil && !goja.IsUndefined(v) {
						_ = this.Set(k, v)
					}
				}
			}
		}
		if v := this.Get("body"); v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			_ = this.Set("body", vm.NewObject())
		}
		_ = this.Set("save", func(call goja.FunctionCall) goja.Value {
			s := t.sessionOf(vm, call.Argument(0))
			cb := callback(vm, call.Argument(1))
			m := messageFromObject(this)
			t.goAsync(func(ctx context.Context) (any, error) {
				err := s.SaveMessage(ctx, &m)
				return m, err
			}, func(vm *goja.Runtime, res any, err error) error {
				if err != nil {
					_, cbErr := cb(goja.Undefined(), vm.NewGoError(err))
					return cbErr
				}
				_, cbErr := cb(goja.Undefined(), goja.Null(), messageValue(vm, res.(message.Message)))
				return cbErr
			})
			return goja.Undefined()
		})
		return nil
	})

	return n
}

// callback returns v as a function, or a no-op when v is absent.
func callback(vm *goja.Runtime, v goja.Value) goja.Callable {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return func(goja.Value, ...goja.Value) (goja.Value, error) { return goja.Undefined(), nil }
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(vm.NewTypeError("callback must be a function"))
	}
	return fn
}

// --- value conversion ---

func principalValue(vm *goja.Runtime, p principal.Principal) *goja.Object {
	o := vm.NewObject()
	_ = o.Set("id", p.ID)
	_ = o.Set("principal_type", string(p.Type))
	_ = o.Set("name", p.Name)
	_ = o.Set("last_ip", p.LastIP)
	if p.Owner != "" {
		_ = o.Set("owner", p.Owner)
	} else {
		_ = o.Set("owner", goja.Null())
	}
	_ = o.Set("isUser", func(goja.FunctionCall) goja.Value { return vm.ToValue(p.IsUser()) })
	_ = o.Set("isDevice", func(goja.FunctionCall) goja.Value { return vm.ToValue(p.IsDevice()) })
	_ = o.Set("is", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(p.Is(principal.Type(call.Argument(0).String())))
	})
	return o
}

func messageValue(vm *goja.Runtime, m message.Message) *goja.Object {
	o := vm.NewObject()
	_ = o.Set("id", m.ID)
	_ = o.Set("message_type", m.Type)
	_ = o.Set("from", m.From)
	if m.To != "" {
		_ = o.Set("to", m.To)
	} else {
		_ = o.Set("to", goja.Null())
	}
	body := m.Body
	if body == nil {
		body = map[string]any{}
	}
	_ = o.Set("body", body)
	if !m.CreatedAt.IsZero() {
		_ = o.Set("created_at", m.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	return o
}

func messageFromObject(o *goja.Object) message.Message {
	m := message.Message{
		ID:   stringField(o, "id"),
		Type: stringField(o, "message_type"),
		From: stringField(o, "from"),
		To:   stringField(o, "to"),
	}
	if v := o.Get("body"); v != nil {
		if body, ok := v.Export().(map[string]any); ok {
			m.Body = body
		}
	}
	return m
}

func principalQuery(v goja.Value) principal.Query {
	o, ok := v.(*goja.Object)
	if !ok {
		return principal.Query{}
	}
	return principal.Query{
		ID:     stringField(o, "id"),
		LastIP: stringField(o, "last_ip"),
		Type:   principal.Type(stringField(o, "principal_type")),
		Name:   stringField(o, "name"),
	}
}

func messageFilter(v goja.Value) message.Filter {
	o, ok := v.(*goja.Object)
	if !ok {
		return message.Filter{}
	}
	return message.Filter{
		Type: stringField(o, "message_type"),
		From: stringField(o, "from"),
		To:   stringField(o, "to"),
	}
}

func stringField(o *goja.Object, key string) string {
	v := o.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
