package optimizer

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	toriiErrors "github.com/akiho/torii/internal/errors"
)

// RuleStore reads and writes the optimization-rules file. Operator edits and
// gateway reloads go through the same advisory lock so neither sees a torn
// file; writes replace atomically.
type RuleStore struct {
	path string
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

func NewRuleStore(path string) *RuleStore {
	return &RuleStore{path: path}
}

func (s *RuleStore) lock() *flock.Flock {
	return flock.New(s.path + ".lock")
}

// Load reads the rule file; a missing file is an empty rule set.
func (s *RuleStore) Load() (RuleSet, error) {
	fl := s.lock()
	if err := fl.RLock(); err != nil {
		return RuleSet{}, toriiErrors.Wrap(err, "lock rules file")
	}
	defer fl.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRuleSet(nil), nil
		}
		return RuleSet{}, toriiErrors.Wrap(err, "read rules file")
	}

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return RuleSet{}, toriiErrors.Wrap(err, "parse rules file")
	}

	return NewRuleSet(rf.Rules), nil
}

// Save atomically replaces the rule file.
func (s *RuleStore) Save(rules []Rule) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return toriiErrors.Wrap(err, "create rules dir")
	}

	data, err := yaml.Marshal(ruleFile{Rules: rules})
	if err != nil {
		return toriiErrors.Wrap(err, "encode rules")
	}

	fl := s.lock()
	if err := fl.Lock(); err != nil {
		return toriiErrors.Wrap(err, "lock rules file")
	}
	defer fl.Unlock()

	return atomic.WriteFile(s.path, bytes.NewReader(data))
}
