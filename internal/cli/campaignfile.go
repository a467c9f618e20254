package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/mezamarco14/resu-sistem/internal/handler"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/storage"
)

// CampaignFile describes a campaign run from the command line.
type CampaignFile struct {
	// Extends names a base file whose values fill in whatever this one leaves
	// empty. Relative to this file.
	Extends string `yaml:"extends"`

	SenderEmail string `yaml:"sender_email"`
	Password    string `yaml:"password"`
	// PasswordEnv names the environment variable holding the credential when
	// Password is empty.
	PasswordEnv string `yaml:"password_env"`

	Subject    string `yaml:"subject"`
	BodyHTML   string `yaml:"body_html"`
	BodyFile   string `yaml:"body_file"`
	FooterHTML string `yaml:"footer_html"`

	Logo  string `yaml:"logo"`
	Flyer string `yaml:"flyer"`
	// Folder1 and Folder2 are directories of per-recipient files.
	Folder1 string `yaml:"folder1"`
	Folder2 string `yaml:"folder2"`

	// Recipients is a CSV sheet or a JSON array of row objects.
	Recipients string `yaml:"recipients"`
}

// DefaultCampaignFile holds the values used when no file sets them.
func DefaultCampaignFile() CampaignFile {
	return CampaignFile{
		PasswordEnv: "MAILER_SENDER_PASSWORD",
		Recipients:  "recipients.csv",
	}
}

// LoadCampaignFile reads path, merges its base files and the defaults under
// it, and resolves relative paths against the file's directory.
func LoadCampaignFile(path string) (*CampaignFile, error) {
	cf, err := loadChain(path, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(cf, DefaultCampaignFile()); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	cf.resolve(filepath.Dir(path))
	return cf, nil
}

func loadChain(path string, seen map[string]bool) (*CampaignFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("campaign file %s extends itself", path)
	}
	seen[abs] = true

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign file: %w", err)
	}
	var cf CampaignFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse campaign file %s: %w", path, err)
	}
	cf.resolve(filepath.Dir(path))

	if cf.Extends == "" {
		return &cf, nil
	}
	base, err := loadChain(cf.Extends, seen)
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&cf, base); err != nil {
		return nil, fmt.Errorf("merge %s: %w", cf.Extends, err)
	}
	return &cf, nil
}

// resolve makes file references absolute. Already absolute paths are kept.
func (cf *CampaignFile) resolve(dir string) {
	for _, p := range []*string{&cf.Extends, &cf.BodyFile, &cf.Logo, &cf.Flyer, &cf.Folder1, &cf.Folder2, &cf.Recipients} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Build turns the file into what the campaign service needs.
func (cf *CampaignFile) Build() (model.CampaignConfig, handler.RowsResult, error) {
	cfg := model.CampaignConfig{
		SenderEmail:     cf.SenderEmail,
		SubjectTemplate: cf.Subject,
		BodyTemplate:    cf.BodyHTML,
		FooterTemplate:  cf.FooterHTML,
	}

	cfg.SenderCredential = cf.Password
	if cfg.SenderCredential == "" && cf.PasswordEnv != "" {
		cfg.SenderCredential = os.Getenv(cf.PasswordEnv)
	}

	if cfg.BodyTemplate == "" && cf.BodyFile != "" {
		body, err := os.ReadFile(cf.BodyFile)
		if err != nil {
			return cfg, handler.RowsResult{}, fmt.Errorf("read body: %w", err)
		}
		cfg.BodyTemplate = string(body)
	}

	if cf.Logo != "" {
		cfg.Logo = &model.Attachment{Filename: filepath.Base(cf.Logo), Path: cf.Logo}
	}
	if cf.Flyer != "" {
		cfg.Flyer = &model.Attachment{Filename: filepath.Base(cf.Flyer), Path: cf.Flyer}
	}

	var err error
	if cfg.Folder1, err = listFolder(cf.Folder1); err != nil {
		return cfg, handler.RowsResult{}, err
	}
	if cfg.Folder2, err = listFolder(cf.Folder2); err != nil {
		return cfg, handler.RowsResult{}, err
	}

	rows, err := readRecipients(cf.Recipients)
	if err != nil {
		return cfg, handler.RowsResult{}, err
	}
	return cfg, handler.NormalizeRows(rows), nil
}

func listFolder(dir string) ([]model.Attachment, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	storage.SortByNumber(names)

	out := make([]model.Attachment, len(names))
	for i, name := range names {
		out[i] = model.Attachment{Filename: name, Path: filepath.Join(dir, name)}
	}
	return out, nil
}

func readRecipients(path string) ([]model.Fields, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var objects []map[string]any
		if err := json.NewDecoder(f).Decode(&objects); err != nil {
			return nil, fmt.Errorf("decode recipients: %w", err)
		}
		return handler.RowsFromMaps(objects), nil
	}
	return handler.ParseCSV(f)
}
