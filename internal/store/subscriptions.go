package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const SubscriptionExt = ".txt"

// SubscriptionDir holds one <username>.txt file per user.
type SubscriptionDir struct {
	Root string
}

func (d SubscriptionDir) Path(name string) string {
	return filepath.Join(d.Root, name+SubscriptionExt)
}

// Names lists usernames that own a subscription file, sorted. A missing
// directory yields no names.
func (d SubscriptionDir) Names() ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", d.Root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), SubscriptionExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), SubscriptionExt)
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d SubscriptionDir) Exists(name string) bool {
	return Exists(d.Path(name))
}

// Create makes an empty subscription file unless one already exists.
func (d SubscriptionDir) Create(name string) (bool, error) {
	if d.Exists(name) {
		return false, nil
	}
	if err := WriteText(d.Path(name), ""); err != nil {
		return false, err
	}
	return true, nil
}

// Rename moves old to new. A missing source file results in an empty new file.
func (d SubscriptionDir) Rename(oldName, newName string) error {
	if d.Exists(newName) {
		return fmt.Errorf("rename %s -> %s: target exists", oldName, newName)
	}
	if !d.Exists(oldName) {
		_, err := d.Create(newName)
		return err
	}
	if err := os.Rename(d.Path(oldName), d.Path(newName)); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", oldName, newName, err)
	}
	return nil
}

func (d SubscriptionDir) Remove(name string) error {
	err := os.Remove(d.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

func (d SubscriptionDir) Read(name string) (string, error) {
	return ReadText(d.Path(name))
}

// Write replaces the file content, skipping the write when nothing changed.
func (d SubscriptionDir) Write(name, content string) (bool, error) {
	if old, err := d.Read(name); err == nil && old == content {
		return false, nil
	}
	if err := WriteText(d.Path(name), content); err != nil {
		return false, err
	}
	return true, nil
}
