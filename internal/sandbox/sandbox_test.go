package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/reactor/internal/domain"
	"github.com/Strob0t/reactor/internal/domain/credential"
	"github.com/Strob0t/reactor/internal/domain/message"
	"github.com/Strob0t/reactor/internal/domain/principal"
	"github.com/Strob0t/reactor/internal/port/platform"
)

// --- test doubles ---

type logRecord struct {
	level slog.Level
	msg   string
	attrs map[string]string
}

type recordingHandler struct {
	mu      sync.Mutex
	records []logRecord
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface
	r := logRecord{level: rec.Level, msg: rec.Message, attrs: map[string]string{}}
	rec.Attrs(func(a slog.Attr) bool {
		r.attrs[a.Key] = a.Value.String()
		return true
	})
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.records))
	for _, r := range h.records {
		out = append(out, r.msg)
	}
	return out
}

func (h *recordingHandler) find(msg string) (logRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.msg == msg {
			return r, true
		}
	}
	return logRecord{}, false
}

type fakeSession struct {
	mu         sync.Mutex
	p          principal.Principal
	principals []principal.Principal
	findErr    error
	saved      []message.Message
	handlers   []platform.MessageHandler
	cancelled  int
}

func (s *fakeSession) Principal() principal.Principal { return s.p }

func (s *fakeSession) Credential() credential.Credential {
	return credential.Credential{Principal: s.p}
}

func (s *fakeSession) Impersonate(context.Context, string) (platform.Session, error) {
	return nil, domain.ErrAuthorization
}

func (s *fakeSession) FindPrincipals(_ context.Context, q principal.Query) ([]principal.Principal, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []principal.Principal
	for i := range s.principals {
		if q.Matches(&s.principals[i]) {
			out = append(out, s.principals[i])
		}
	}
	return out, nil
}

func (s *fakeSession) SaveMessage(_ context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = "m-" + time.Now().Format("150405.000000000")
	s.saved = append(s.saved, *m)
	return nil
}

func (s *fakeSession) Subscribe(_ context.Context, _ message.Filter, h platform.MessageHandler) (func(), error) {
	s.mu.Lock()
	s.handlers = append(s.handlers, h)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cancelled++
		s.mu.Unlock()
	}, nil
}

func (s *fakeSession) deliver(m message.Message) {
	s.mu.Lock()
	hs := append([]platform.MessageHandler(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range hs {
		h(context.Background(), m)
	}
}

func (s *fakeSession) savedMessages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Message(nil), s.saved...)
}

// --- helpers ---

func launch(t *testing.T, src string, sess platform.Session, params string) (*Task, *recordingHandler) {
	t.Helper()
	script, err := Compile("test.js", src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	h := &recordingHandler{}
	caps := Capabilities{Logger: slog.New(h), Session: sess}
	if params != "" {
		caps.Params = json.RawMessage(params)
	}
	task := Launch(context.Background(), script, caps)
	t.Cleanup(task.Stop)

	select {
	case <-task.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for top-level run")
	}
	return task, h
}

func idle(t *testing.T, task *Task) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := task.Idle(ctx); err != nil {
		t.Fatalf("Idle: %v", err)
	}
}

func newSession() *fakeSession {
	return &fakeSession{p: principal.Principal{ID: "svc", Type: principal.TypeService}}
}

// --- tests ---

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile("broken.js", "function (")
	if !errors.Is(err, domain.ErrScriptExecution) {
		t.Fatalf("expected ErrScriptExecution, got %v", err)
	}
}

func TestCompileOnceRunMany(t *testing.T) {
	script, err := Compile("counter.js", "var n = (typeof n === 'number' ? n : 0) + 1; log.info(String(n));")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for range 2 {
		h := &recordingHandler{}
		task := Launch(context.Background(), script, Capabilities{Logger: slog.New(h), Session: newSession()})
		<-task.Started()
		task.Stop()
		if got := h.messages(); len(got) != 1 || got[0] != "1" {
			t.Fatalf("expected fresh runtime per launch, got %v", got)
		}
	}
}

func TestGlobalsAreExactlyTheCapabilitySet(t *testing.T) {
	src := `log.info([
		typeof async, typeof log, typeof nitrogen, typeof params, typeof session,
		typeof setTimeout, typeof setInterval,
		typeof require, typeof console, typeof process, typeof module, typeof fetch
	].join(','));`
	task, h := launch(t, src, newSession(), "")
	if err := task.Err(); err != nil {
		t.Fatalf("unexpected fault: %v", err)
	}
	want := "object,object,object,object,object,function,function,undefined,undefined,undefined,undefined,undefined"
	if got := h.messages(); len(got) != 1 || got[0] != want {
		t.Fatalf("globals = %v, want %s", got, want)
	}
}

func TestTopLevelThrowIsContained(t *testing.T) {
	task, h := launch(t, "function explode() { throw new Error('boom'); }\nexplode();", newSession(), "")

	err := task.Err()
	if !errors.Is(err, domain.ErrScriptExecution) {
		t.Fatalf("expected ErrScriptExecution, got %v", err)
	}
	rec, ok := h.find("agent script fault")
	if !ok {
		t.Fatal("expected fault to be logged")
	}
	if !strings.Contains(rec.attrs["stack"], "explode") {
		t.Fatalf("expected JS stack in log, got %q", rec.attrs["stack"])
	}

	select {
	case <-task.Done():
		t.Fatal("task loop should keep running after a top-level fault")
	default:
	}
}

func TestParams(t *testing.T) {
	_, h := launch(t, "log.info(params.greeting + ':' + params.n);", newSession(), `{"greeting":"hi","n":2}`)
	if got := h.messages(); len(got) != 1 || got[0] != "hi:2" {
		t.Fatalf("got %v", got)
	}
}

func TestEmptyParamsIsObject(t *testing.T) {
	_, h := launch(t, "log.info(JSON.stringify(params));", newSession(), "")
	if got := h.messages(); len(got) != 1 || got[0] != "{}" {
		t.Fatalf("got %v", got)
	}
}

func TestSessionPrincipal(t *testing.T) {
	sess := newSession()
	sess.p = principal.Principal{ID: "u1", Type: principal.TypeUser}
	_, h := launch(t, "log.info(session.principal.id + ' ' + session.principal.isUser() + ' ' + session.principal.is('device'));", sess, "")
	if got := h.messages(); len(got) != 1 || got[0] != "u1 true false" {
		t.Fatalf("got %v", got)
	}
}

func TestPrincipalFindAndMessageSave(t *testing.T) {
	sess := newSession()
	sess.principals = []principal.Principal{
		{ID: "u1", Type: principal.TypeUser, LastIP: "1.2.3.4"},
		{ID: "d1", Type: principal.TypeDevice, LastIP: "1.2.3.4", Owner: "u1"},
	}
	src := `
nitrogen.Principal.find(session, { last_ip: '1.2.3.4' }, function (err, found) {
	if (err) return log.error(err.message);
	found.forEach(function (p) {
		var m = new nitrogen.Message({ message_type: 'seen', from: p.id, body: { owner: p.owner } });
		m.save(session, function (err, saved) {
			if (err) return log.error(err.message);
			log.info('saved ' + saved.from);
		});
	});
});`
	task, _ := launch(t, src, sess, "")
	idle(t, task)

	saved := sess.savedMessages()
	if len(saved) != 2 {
		t.Fatalf("expected 2 saved messages, got %d", len(saved))
	}
	for _, m := range saved {
		if m.Type != "seen" {
			t.Fatalf("message_type = %q", m.Type)
		}
		if m.From == "d1" && m.Body["owner"] != "u1" {
			t.Fatalf("expected owner u1 in body, got %v", m.Body)
		}
		if m.From == "u1" && m.Body["owner"] != nil {
			t.Fatalf("expected null owner for user, got %v", m.Body["owner"])
		}
	}
}

func TestPrincipalConstructor(t *testing.T) {
	src := `
var d = new nitrogen.Principal({ id: 'd1', principal_type: 'device', owner: 'u1' });
var empty = new nitrogen.Principal();
log.info(d.id + ' ' + d.isDevice() + ' ' + d.isUser() + ' ' + d.is('device') + ' ' + d.owner);
log.info(empty.id + ' ' + empty.isUser() + ' ' + empty.owner);
log.info(typeof nitrogen.Principal.find + ' ' + typeof nitrogen.Session);`
	_, h := launch(t, src, newSession(), "")
	want := []string{"d1 true false true u1", " false null", "function undefined"}
	got := h.messages()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestLookupErrorReachesCallback(t *testing.T) {
	sess := newSession()
	sess.findErr = errors.New("directory down")
	src := `nitrogen.Principal.find(session, { id: 'x' }, function (err) { log.warn(err ? 'lookup failed' : 'ok'); });`
	task, h := launch(t, src, sess, "")
	idle(t, task)
	if got := h.messages(); len(got) != 1 || got[0] != "lookup failed" {
		t.Fatalf("got %v", got)
	}
}

func TestOnMessageDelivery(t *testing.T) {
	sess := newSession()
	src := `
session.onMessage({ message_type: 'ip' }, function (msg) {
	log.info(msg.message_type + ' from ' + msg.from + ' at ' + msg.body.ip_address);
});`
	task, h := launch(t, src, sess, "")

	sess.deliver(message.Message{Type: "ip", From: "d1", Body: map[string]any{"ip_address": "1.2.3.4"}})
	idle(t, task)

	if got := h.messages(); len(got) != 1 || got[0] != "ip from d1 at 1.2.3.4" {
		t.Fatalf("got %v", got)
	}
}

func TestCallbackErrorDoesNotStopTask(t *testing.T) {
	sess := newSession()
	src := `
var seen = 0;
session.onMessage({}, function (msg) {
	seen++;
	if (seen === 1) throw new Error('first delivery fails');
	log.info('handled ' + seen);
});`
	task, h := launch(t, src, sess, "")

	sess.deliver(message.Message{Type: "ip", From: "d1"})
	sess.deliver(message.Message{Type: "ip", From: "d1"})
	idle(t, task)

	if _, ok := h.find("agent callback failed"); !ok {
		t.Fatal("expected callback failure to be logged")
	}
	if _, ok := h.find("handled 2"); !ok {
		t.Fatalf("expected second delivery handled, got %v", h.messages())
	}
}

func TestSetTimeoutAndInterval(t *testing.T) {
	src := `
setTimeout(function (word) { log.info('timeout ' + word); }, 1, 'fired');
var ticks = 0;
setInterval(function () { ticks++; if (ticks === 3) log.info('interval 3'); }, 1);`
	_, h := launch(t, src, newSession(), "")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, a := h.find("timeout fired")
		_, b := h.find("interval 3")
		if a && b {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timers did not fire, got %v", h.messages())
}

func TestAsyncHelpers(t *testing.T) {
	src := `
async.map([1, 2, 3], function (x, cb) { cb(null, x * 2); }, function (err, r) { log.info('map ' + r.join(',')); });
async.series([
	function (cb) { cb(null, 'a'); },
	function (cb) { cb(null, 'b'); }
], function (err, r) { log.info('series ' + r.join(',')); });
async.parallel([
	function (cb) { setTimeout(function () { cb(null, 1); }, 2); },
	function (cb) { cb(null, 2); }
], function (err, r) { log.info('parallel ' + r.join(',')); });
var order = [];
async.eachSeries(['x', 'y'], function (v, cb) { order.push(v); cb(); }, function () { log.info('eachSeries ' + order.join('')); });
async.each([], function (v, cb) { cb(); }, function (err) { log.info('each empty ' + err); });
async.each([1, 2], function (v, cb) { cb(v === 2 ? new Error('bad') : null); }, function (err) { log.info('each err ' + err.message); });`
	_, h := launch(t, src, newSession(), "")

	want := []string{"map 2,4,6", "series a,b", "eachSeries xy", "each empty null", "each err bad", "parallel 1,2"}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		missing := false
		for _, w := range want {
			if _, ok := h.find(w); !ok {
				missing = true
			}
		}
		if !missing {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("async helpers incomplete, got %v", h.messages())
}

func TestStopReleasesSubscriptions(t *testing.T) {
	sess := newSession()
	task, _ := launch(t, "session.onMessage({}, function () {});", sess, "")

	task.Stop()
	select {
	case <-task.Done():
	default:
		t.Fatal("expected Done closed after Stop")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.cancelled != 1 {
		t.Fatalf("expected subscription cancelled once, got %d", sess.cancelled)
	}
}

func TestContextCancelInterruptsBusyScript(t *testing.T) {
	script, err := Compile("spin.js", "for (;;) {}")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := Launch(ctx, script, Capabilities{Logger: slog.New(&recordingHandler{}), Session: newSession()})
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("busy script was not interrupted")
	}
	if !errors.Is(task.Err(), domain.ErrScriptExecution) {
		t.Fatalf("expected interrupted run to be a script fault, got %v", task.Err())
	}
}
