package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// knowledgeFile is the on-disk shape of knowledge.json.
type knowledgeFile struct {
	Routes    []Route                      `json:"routes,omitempty"`
	Hosts     map[string]map[string]string `json:"hosts,omitempty"`
	Incidents []Incident                   `json:"incidents,omitempty"`
}

// skillsFile is the on-disk shape of skills.json.
type skillsFile struct {
	Skills []LearnedSkill `json:"skills,omitempty"`
}

// FileStore persists knowledge in two JSON files: knowledge.json for routes,
// host facts, and incidents; skills.json for learned skills. Every write
// re-reads the file first (append-merge), so edits made by another process
// between calls survive.
type FileStore struct {
	mu            sync.Mutex
	knowledgePath string
	skillsPath    string
}

// NewFileStore creates a store over the given file paths. Files are created
// on first write.
func NewFileStore(knowledgePath, skillsPath string) *FileStore {
	return &FileStore{
		knowledgePath: knowledgePath,
		skillsPath:    skillsPath,
	}
}

// RecordIncident stores an incident, replacing any with the same ID.
func (s *FileStore) RecordIncident(ctx context.Context, incident Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kf knowledgeFile
	if err := readJSONFile(s.knowledgePath, &kf); err != nil {
		return err
	}
	replaced := false
	for i := range kf.Incidents {
		if kf.Incidents[i].ID == incident.ID {
			kf.Incidents[i] = incident
			replaced = true
			break
		}
	}
	if !replaced {
		kf.Incidents = append(kf.Incidents, incident)
	}
	return writeJSONFile(s.knowledgePath, &kf)
}

// FindSimilar ranks incidents by symptom overlap. An incident scores one
// point per query symptom appearing in its title, description, or symptoms.
func (s *FileStore) FindSimilar(ctx context.Context, symptoms []string, limit int) ([]Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kf knowledgeFile
	if err := readJSONFile(s.knowledgePath, &kf); err != nil {
		return nil, err
	}

	type scored struct {
		incident Incident
		score    int
	}
	var matches []scored
	for _, inc := range kf.Incidents {
		haystack := strings.ToLower(inc.Title + " " + inc.Description + " " + strings.Join(inc.Symptoms, " "))
		score := 0
		for _, sym := range symptoms {
			if sym == "" {
				continue
			}
			if strings.Contains(haystack, strings.ToLower(sym)) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{incident: inc, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Incident, len(matches))
	for i, m := range matches {
		out[i] = m.incident
	}
	return out, nil
}

// AddSkill stores a learned skill. A skill with the same trigger is replaced
// but keeps its accumulated usage count.
func (s *FileStore) AddSkill(ctx context.Context, skill LearnedSkill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sf skillsFile
	if err := readJSONFile(s.skillsPath, &sf); err != nil {
		return err
	}
	if skill.CreatedAt.IsZero() {
		skill.CreatedAt = time.Now().UTC()
	}
	for i := range sf.Skills {
		if sf.Skills[i].Trigger == skill.Trigger {
			skill.UsageCount += sf.Skills[i].UsageCount
			skill.CreatedAt = sf.Skills[i].CreatedAt
			sf.Skills[i] = skill
			return writeJSONFile(s.skillsPath, &sf)
		}
	}
	sf.Skills = append(sf.Skills, skill)
	return writeJSONFile(s.skillsPath, &sf)
}

// SearchSkills ranks skills by word overlap between query and trigger.
// Skills carrying any of the given tags rank above untagged matches.
func (s *FileStore) SearchSkills(ctx context.Context, query string, tags []string, limit int) ([]LearnedSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sf skillsFile
	if err := readJSONFile(s.skillsPath, &sf); err != nil {
		return nil, err
	}

	queryWords := strings.Fields(strings.ToLower(query))
	tagSet := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tagSet[strings.ToLower(tag)] = true
	}

	type scored struct {
		skill LearnedSkill
		score int
	}
	var matches []scored
	for _, sk := range sf.Skills {
		trigger := strings.ToLower(sk.Trigger)
		score := 0
		for _, w := range queryWords {
			if strings.Contains(trigger, w) {
				score++
			}
		}
		// A tag hit outranks any word-overlap score.
		for _, tag := range sk.Tags {
			if tagSet[strings.ToLower(tag)] {
				score += len(queryWords) + 1
				break
			}
		}
		if score > 0 {
			matches = append(matches, scored{skill: sk, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]LearnedSkill, len(matches))
	for i, m := range matches {
		out[i] = m.skill
	}
	return out, nil
}

// MarkSkillUsed bumps the usage counter and last-used stamp for a trigger.
func (s *FileStore) MarkSkillUsed(ctx context.Context, trigger string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sf skillsFile
	if err := readJSONFile(s.skillsPath, &sf); err != nil {
		return err
	}
	for i := range sf.Skills {
		if sf.Skills[i].Trigger == trigger {
			sf.Skills[i].UsageCount++
			sf.Skills[i].LastUsed = time.Now().UTC()
			return writeJSONFile(s.skillsPath, &sf)
		}
	}
	return fmt.Errorf("no learned skill with trigger %q", trigger)
}

// SaveRoute records a network→gateway route, replacing an entry for the
// same network.
func (s *FileStore) SaveRoute(route Route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kf knowledgeFile
	if err := readJSONFile(s.knowledgePath, &kf); err != nil {
		return err
	}
	for i := range kf.Routes {
		if kf.Routes[i].Network == route.Network {
			kf.Routes[i] = route
			return writeJSONFile(s.knowledgePath, &kf)
		}
	}
	kf.Routes = append(kf.Routes, route)
	return writeJSONFile(s.knowledgePath, &kf)
}

// Routes returns all recorded routes.
func (s *FileStore) Routes() ([]Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kf knowledgeFile
	if err := readJSONFile(s.knowledgePath, &kf); err != nil {
		return nil, err
	}
	return kf.Routes, nil
}

// RecordHostFact merges one key/value fact for a host.
func (s *FileStore) RecordHostFact(host, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kf knowledgeFile
	if err := readJSONFile(s.knowledgePath, &kf); err != nil {
		return err
	}
	if kf.Hosts == nil {
		kf.Hosts = make(map[string]map[string]string)
	}
	if kf.Hosts[host] == nil {
		kf.Hosts[host] = make(map[string]string)
	}
	kf.Hosts[host][key] = value
	return writeJSONFile(s.knowledgePath, &kf)
}

// HostFacts returns the recorded facts for a host (copy).
func (s *FileStore) HostFacts(host string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kf knowledgeFile
	if err := readJSONFile(s.knowledgePath, &kf); err != nil {
		return nil, err
	}
	facts := make(map[string]string, len(kf.Hosts[host]))
	for k, v := range kf.Hosts[host] {
		facts[k] = v
	}
	return facts, nil
}

// readJSONFile loads path into v. A missing file leaves v zero-valued.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeJSONFile writes v to path atomically (temp file + rename).
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
