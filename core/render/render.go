// Package render writes the SLURM job bundle for a job request.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"hattivatti/core/models"
)

//go:embed templates
var templateFS embed.FS

// Bundle file names
const (
	ScriptFile   = "job.sh"
	InputFile    = "input.json"
	ParamsFile   = "params.json"
	AllasFile    = "allas.config"
	TransferFile = "transfer.txt"
)

// Section names, in the order they appear in job.sh
const (
	SectionHeader   = "header.txt"
	SectionCallback = "callback.txt"
	SectionEnvVars  = "env_vars.txt"
	SectionWorkflow = "nxf.txt"
)

var scriptSections = []string{SectionHeader, SectionCallback, SectionEnvVars, SectionWorkflow}

// Options configures the values shared by every rendered job
type Options struct {
	WorkDir     string // Absolute working directory
	JobTime     string // SLURM --time
	PgscCalcDir string
	GlobusPath  string // Absolute path to the globus file handler
	Now         func() time.Time
}

// Renderer renders job bundles from the embedded templates
type Renderer struct {
	templates *template.Template
	allas     []byte
	opts      Options
}

// HeaderContext is the data for header.txt
type HeaderContext struct {
	Name    string
	JobTime string
	TimeNow string
}

// CallbackContext is the data for callback.txt
type CallbackContext struct {
	Name string
}

// WorkflowContext is the data for nxf.txt
type WorkflowContext struct {
	Name             string
	WorkDir          string
	PgscCalcDir      string
	GlobusPath       string
	GlobusParentPath string
}

// Bundle describes a rendered job directory
type Bundle struct {
	Dir    string
	Script string
}

// New parses the embedded templates
func New(opts Options) (*Renderer, error) {
	if !filepath.IsAbs(opts.WorkDir) {
		return nil, fmt.Errorf("working directory %q must be absolute", opts.WorkDir)
	}
	if !filepath.IsAbs(opts.GlobusPath) {
		return nil, fmt.Errorf("globus path %q must be absolute", opts.GlobusPath)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tmpl, err := template.New("job").
		Option("missingkey=error").
		ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to parse job templates: %w", err)
	}

	allas, err := templateFS.ReadFile("templates/" + AllasFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", AllasFile, err)
	}

	return &Renderer{templates: tmpl, allas: allas, opts: opts}, nil
}

// Sections renders the four job.sh sections in script order
func (r *Renderer) Sections(req *models.JobRequest) ([][]byte, error) {
	name := req.PipelineParam.ID
	contexts := map[string]interface{}{
		SectionHeader: HeaderContext{
			Name:    name,
			JobTime: r.opts.JobTime,
			TimeNow: r.opts.Now().UTC().Format("2006-01-02 15:04:05.000000 UTC"),
		},
		SectionCallback: CallbackContext{Name: name},
		SectionEnvVars:  nil,
		SectionWorkflow: WorkflowContext{
			Name:             name,
			WorkDir:          r.opts.WorkDir,
			PgscCalcDir:      r.opts.PgscCalcDir,
			GlobusPath:       r.opts.GlobusPath,
			GlobusParentPath: filepath.Dir(r.opts.GlobusPath),
		},
	}

	sections := make([][]byte, 0, len(scriptSections))
	for _, section := range scriptSections {
		var buf bytes.Buffer
		if err := r.templates.ExecuteTemplate(&buf, section, contexts[section]); err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", section, err)
		}
		sections = append(sections, buf.Bytes())
	}
	return sections, nil
}

// Render writes the job bundle into dir, which must already exist and be empty.
// job.sh is written first, then the sidecar files.
func (r *Renderer) Render(req *models.JobRequest, dir string) (*Bundle, error) {
	sections, err := r.Sections(req)
	if err != nil {
		return nil, err
	}

	script := filepath.Join(dir, ScriptFile)
	if err := writeScript(script, sections); err != nil {
		return nil, err
	}

	input, err := json.Marshal(req.PipelineParam.TargetGenomes)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise target genomes: %w", err)
	}
	params, err := json.Marshal(req.PipelineParam.NxfParamsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise params file: %w", err)
	}

	sidecars := []struct {
		name    string
		content []byte
	}{
		{InputFile, input},
		{ParamsFile, params},
		{AllasFile, r.allas},
		{TransferFile, transferList(req.GlobusDetails)},
	}
	for _, f := range sidecars {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	return &Bundle{Dir: dir, Script: script}, nil
}

func writeScript(path string, sections [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	for _, section := range sections {
		if _, err := f.Write(section); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return f.Close()
}

// transferList lists the files for the globus file handler, one "<path> <size>" row per file
func transferList(details models.GlobusDetails) []byte {
	dir := strings.TrimSuffix(details.DirPathOnGuestCollection, "/")

	var buf bytes.Buffer
	for _, file := range details.Files {
		fmt.Fprintf(&buf, "%s/%s %d\n", dir, file.Filename, file.FileSize)
	}
	return buf.Bytes()
}
