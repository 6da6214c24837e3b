package store

import (
	"errors"
	"fmt"
	"os"
)

type staged struct {
	path string
	tmp  string
}

// Txn groups several whole-file rewrites. Contents are written to temp files
// first and only renamed into place by Commit, so a failure while staging
// leaves every target untouched.
type Txn struct {
	files []staged
	done  bool
}

func Begin() *Txn {
	return &Txn{}
}

func (tx *Txn) Stage(path string, content string) error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tmp, err := writeTemp(path, content)
	if err != nil {
		return err
	}
	tx.files = append(tx.files, staged{path: path, tmp: tmp})
	return nil
}

func (tx *Txn) StageLines(path string, lines []string) error {
	return tx.Stage(path, JoinLines(lines))
}

// Commit renames every staged file into place. On a rename error the remaining
// temp files are removed; files already renamed stay renamed.
func (tx *Txn) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	for i, f := range tx.files {
		if err := os.Rename(f.tmp, f.path); err != nil {
			for _, rest := range tx.files[i:] {
				_ = os.Remove(rest.tmp)
			}
			return fmt.Errorf("commit %s: %w", f.path, err)
		}
	}
	return nil
}

func (tx *Txn) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	for _, f := range tx.files {
		_ = os.Remove(f.tmp)
	}
}
