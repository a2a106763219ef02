package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"studyscope/internal/helper"
	"studyscope/internal/models"
	"studyscope/internal/store"
)

const stateFile = "notes.json"

// MoodLog is one check-in: the mood picked and the question being studied at the
// time. It is stored as a two-element JSON array.
type MoodLog struct {
	Mood         string
	LastQuestion string
}

func (m MoodLog) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{m.Mood, m.LastQuestion})
}

func (m *MoodLog) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return goerr.Wrap(err, "mood log must be a [mood, question] pair")
	}
	if len(pair) != 2 {
		return goerr.New("mood log must have two elements", goerr.V("length", len(pair)))
	}
	m.Mood, m.LastQuestion = pair[0], pair[1]
	return nil
}

// State is the per-subject study session: to-do list, quick note, mood check-ins
// and the study timer.
type State struct {
	Tasks          []string   `json:"tasks"`
	Note           string     `json:"note"`
	BurnoutLogs    []MoodLog  `json:"burnout_logs"`
	TimerStartedAt *time.Time `json:"timer_started_at,omitempty"`
}

func NewState() *State {
	return &State{Tasks: []string{}, BurnoutLogs: []MoodLog{}}
}

func (s *State) AddTask(task string) error {
	task = strings.TrimSpace(task)
	if task == "" {
		return goerr.Wrap(models.ErrEmptyTask, "cannot add task")
	}
	s.Tasks = append(s.Tasks, task)
	return nil
}

func (s *State) ClearTasks() {
	s.Tasks = []string{}
}

func (s *State) SetNote(note string) {
	s.Note = note
}

func (s *State) LogMood(mood, lastQuestion string) {
	s.BurnoutLogs = append(s.BurnoutLogs, MoodLog{Mood: mood, LastQuestion: lastQuestion})
}

// Suggestion returns advice for the most recent mood, or "" when there is none.
func (s *State) Suggestion() string {
	if len(s.BurnoutLogs) == 0 {
		return ""
	}
	mood := strings.ToLower(s.BurnoutLogs[len(s.BurnoutLogs)-1].Mood)
	switch {
	case strings.Contains(mood, "burned out"):
		return "Take a short break. Maybe step outside or stretch a little?"
	case strings.Contains(mood, "tired"):
		return "Stay hydrated and consider switching to a lighter task."
	case strings.Contains(mood, "okay"):
		return "You're doing fine! Try the Pomodoro method for focus."
	case strings.Contains(mood, "energetic"):
		return "Great energy! Push through your current goals."
	default:
		return ""
	}
}

// StartTimer (re)starts the study timer at now.
func (s *State) StartTimer(now time.Time) {
	t := now.UTC()
	s.TimerStartedAt = &t
}

// Elapsed returns the time studied since the timer started, or zero if it never did.
func (s *State) Elapsed(now time.Time) time.Duration {
	if s.TimerStartedAt == nil {
		return 0
	}
	return now.Sub(*s.TimerStartedAt)
}

// Store loads and saves session state next to each subject's notes.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(subject string) string {
	return filepath.Join(s.root, subject, stateFile)
}

// Load returns the saved state of subject, or an empty state if nothing was saved.
func (s *Store) Load(subject string) (*State, error) {
	if err := store.ValidateSubject(subject); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(subject))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewState(), nil
		}
		return nil, goerr.Wrap(err, "failed to read session", goerr.V("subject", subject))
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, goerr.Wrap(err, "failed to parse session", goerr.V("subject", subject))
	}
	if state.Tasks == nil {
		state.Tasks = []string{}
	}
	if state.BurnoutLogs == nil {
		state.BurnoutLogs = []MoodLog{}
	}
	return state, nil
}

// Save writes state for subject, replacing the previous file atomically.
func (s *Store) Save(subject string, state *State) error {
	if err := store.ValidateSubject(subject); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return goerr.Wrap(err, "failed to encode session", goerr.V("subject", subject))
	}
	if err := helper.CreateFolder(filepath.Join(s.root, subject)); err != nil {
		return err
	}
	return helper.WriteFileAtomic(s.path(subject), data)
}
