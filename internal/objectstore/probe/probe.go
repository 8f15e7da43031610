// Package probe checks a configured object store end to end.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/Adoubf/cloud-mail/internal/objectstore"
)

const probeContentType = "text/plain; charset=utf-8"

type Step struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

type Report struct {
	Backend string `json:"backend"`
	Key     string `json:"key"`
	OK      bool   `json:"ok"`
	Steps   []Step `json:"steps"`
}

// Run writes a small object under prefix, reads it back through head and get, deletes
// it and confirms it is gone. It stops at the first failing step but always attempts
// the delete once the put has succeeded.
func Run(ctx context.Context, store objectstore.Store, prefix string) Report {
	key := prefix + "probe/" + uuid.NewString() + ".txt"
	payload := []byte("cloud-mail storage probe " + time.Now().UTC().Format(time.RFC3339Nano))

	report := Report{Backend: string(store.Kind()), Key: key}

	step := func(name string, fn func() error) bool {
		begin := time.Now()
		err := fn()
		s := Step{Name: name, OK: err == nil, ElapsedMs: time.Since(begin).Milliseconds()}
		if err != nil {
			s.Error = err.Error()
		}
		report.Steps = append(report.Steps, s)
		return err == nil
	}

	if !step("put", func() error {
		_, err := store.Put(ctx, key, payload, objectstore.PutOptions{ContentType: probeContentType})
		return err
	}) {
		return report
	}

	ok := step("head", func() error {
		info, err := store.Head(ctx, key)
		if err != nil {
			return err
		}
		if info == nil {
			return errors.New("object missing right after put")
		}
		if info.Size != int64(len(payload)) {
			return fmt.Errorf("size %d, want %d", info.Size, len(payload))
		}
		return nil
	}) && step("get", func() error {
		obj, err := store.Get(ctx, key)
		if err != nil {
			return err
		}
		defer obj.Body.Close()
		got, err := io.ReadAll(obj.Body)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, payload) {
			return errors.New("payload mismatch")
		}
		return nil
	})

	deleted := step("delete", func() error {
		return store.Delete(ctx, key)
	})

	if ok && deleted {
		ok = step("head_absent", func() error {
			info, err := store.Head(ctx, key)
			if err != nil {
				return err
			}
			if info != nil {
				return errors.New("object still present after delete")
			}
			return nil
		})
	}

	report.OK = ok && deleted
	return report
}
