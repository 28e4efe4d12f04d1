package config

import "time"

// Config holds scanrelay configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Folders    []FolderCfg   `mapstructure:"folders" yaml:"folders"`
	Qualer     QualerCfg     `mapstructure:"qualer" yaml:"qualer"`
	Watch      WatchCfg      `mapstructure:"watch" yaml:"watch"`
	Extract    ExtractCfg    `mapstructure:"extract" yaml:"extract"`
	Validation ValidationCfg `mapstructure:"validation" yaml:"validation"`
	Upload     UploadCfg     `mapstructure:"upload" yaml:"upload"`
	Cache      CacheCfg      `mapstructure:"cache" yaml:"cache"`
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`

	DryRun     bool          `mapstructure:"dry_run" yaml:"dry_run"`         // Never upload, only log
	DeleteMode bool          `mapstructure:"delete_mode" yaml:"delete_mode"` // Delete instead of archive after upload
	MaxRuntime time.Duration `mapstructure:"max_runtime" yaml:"max_runtime"` // 0 = run until stopped
	LogLevel   string        `mapstructure:"log_level" yaml:"log_level"`
}

// FolderCfg configures one watched folder.
type FolderCfg struct {
	Name       string `mapstructure:"name" yaml:"name"`
	InputDir   string `mapstructure:"input_dir" yaml:"input_dir"`
	OutputDir  string `mapstructure:"output_dir" yaml:"output_dir"` // Empty = delete after upload
	RejectDir  string `mapstructure:"reject_dir" yaml:"reject_dir"`
	DocType    string `mapstructure:"doc_type" yaml:"doc_type"` // general, ordercertificate, workorder, purchaseorder
	ValidatePO bool   `mapstructure:"validate_po" yaml:"validate_po"`
	Private    bool   `mapstructure:"private" yaml:"private"` // Upload documents as private
}

// QualerCfg configures the record-system API.
type QualerCfg struct {
	Live       bool          `mapstructure:"live" yaml:"live"`
	LiveURL    string        `mapstructure:"live_url" yaml:"live_url"`
	StagingURL string        `mapstructure:"staging_url" yaml:"staging_url"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"` // Supports ${ENV_VAR} syntax
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// WatchCfg tunes detection, stability and lock retry.
type WatchCfg struct {
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StablePolls       int           `mapstructure:"stable_polls" yaml:"stable_polls"`
	LockRetryAttempts int           `mapstructure:"lock_retry_attempts" yaml:"lock_retry_attempts"`
	LockRetryDelay    time.Duration `mapstructure:"lock_retry_delay" yaml:"lock_retry_delay"`
	LockRetryMaxDelay time.Duration `mapstructure:"lock_retry_max_delay" yaml:"lock_retry_max_delay"`
}

// ExtractCfg tunes orientation, text extraction and work-order detection.
type ExtractCfg struct {
	WorkOrderPattern string `mapstructure:"work_order_pattern" yaml:"work_order_pattern"`
	MinChars         int    `mapstructure:"min_chars" yaml:"min_chars"`       // Below this a page is sent to OCR
	OCRProvider      string `mapstructure:"ocr_provider" yaml:"ocr_provider"` // tesseract, mistral, none
	Orientation      bool   `mapstructure:"orientation" yaml:"orientation"`
	RenderDPI        int    `mapstructure:"render_dpi" yaml:"render_dpi"`
	TesseractPath    string `mapstructure:"tesseract_path" yaml:"tesseract_path"`
	PdftoppmPath     string `mapstructure:"pdftoppm_path" yaml:"pdftoppm_path"`
}

// ValidationCfg configures PO validation and its vision fallback.
type ValidationCfg struct {
	VisionProvider      string     `mapstructure:"vision_provider" yaml:"vision_provider"` // openai, gemini, none
	ConfidenceThreshold float64    `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	OpenAI              OpenAICfg  `mapstructure:"openai" yaml:"openai"`
	Gemini              GeminiCfg  `mapstructure:"gemini" yaml:"gemini"`
	Mistral             MistralCfg `mapstructure:"mistral" yaml:"mistral"`
}

// OpenAICfg configures the OpenAI vision extractor.
type OpenAICfg struct {
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`
	Model     string  `mapstructure:"model" yaml:"model"`
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per minute
}

// GeminiCfg configures the Vertex AI Gemini vision extractor.
type GeminiCfg struct {
	ProjectID       string `mapstructure:"project_id" yaml:"project_id"`
	Location        string `mapstructure:"location" yaml:"location"`
	Model           string `mapstructure:"model" yaml:"model"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
}

// MistralCfg configures the Mistral OCR transcriber.
type MistralCfg struct {
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
}

// UploadCfg configures the upload orchestrator.
type UploadCfg struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// CacheCfg configures the shared PO cache.
type CacheCfg struct {
	Path string `mapstructure:"path" yaml:"path"` // Empty = {home}/po_cache.json.gz
}

// ServerCfg configures the status server started by `watch`.
type ServerCfg struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    string `mapstructure:"port" yaml:"port"`
}

const (
	QualerLiveURL    = "https://jgiquality.qualer.com/api"
	QualerStagingURL = "https://jgiquality.staging.qualer.com/api"
)

// DefaultConfig returns configuration with sensible defaults.
// No folders are configured by default.
func DefaultConfig() *Config {
	return &Config{
		Qualer: QualerCfg{
			Live:       false,
			LiveURL:    QualerLiveURL,
			StagingURL: QualerStagingURL,
			APIKey:     "${QUALER_API_KEY}",
			Timeout:    60 * time.Second,
			MaxRetries: 3,
		},
		Watch: WatchCfg{
			PollInterval:      2 * time.Second,
			StablePolls:       2,
			LockRetryAttempts: 6,
			LockRetryDelay:    500 * time.Millisecond,
			LockRetryMaxDelay: 10 * time.Second,
		},
		Extract: ExtractCfg{
			WorkOrderPattern: `56561-\d{6}`,
			MinChars:         50,
			OCRProvider:      "tesseract",
			Orientation:      true,
			RenderDPI:        150,
			TesseractPath:    "tesseract",
			PdftoppmPath:     "pdftoppm",
		},
		Validation: ValidationCfg{
			VisionProvider:      "gemini",
			ConfidenceThreshold: 0.7,
			OpenAI: OpenAICfg{
				APIKey:    "${OPENAI_API_KEY}",
				Model:     "gpt-4o-mini",
				RateLimit: 60,
			},
			Gemini: GeminiCfg{
				ProjectID: "${GOOGLE_CLOUD_PROJECT}",
				Location:  "us-central1",
				Model:     "gemini-2.0-flash",
			},
			Mistral: MistralCfg{
				APIKey:    "${MISTRAL_API_KEY}",
				RateLimit: 6.0,
			},
		},
		Upload: UploadCfg{
			MaxAttempts: 10,
		},
		Server: ServerCfg{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    "8080",
		},
		LogLevel: "info",
	}
}

// ExampleFolder is written by `config init` as a starting point.
func ExampleFolder() FolderCfg {
	return FolderCfg{
		Name:       "scans",
		InputDir:   "/mnt/share/scans",
		OutputDir:  "/mnt/share/scans/archive",
		RejectDir:  "/mnt/share/scans/reject",
		DocType:    "general",
		ValidatePO: true,
	}
}

// QualerBaseURL returns the live or staging endpoint.
func (c *Config) QualerBaseURL() string {
	if c.Qualer.Live {
		return c.Qualer.LiveURL
	}
	return c.Qualer.StagingURL
}

// Folder returns a folder config by name.
func (c *Config) Folder(name string) (FolderCfg, bool) {
	for _, f := range c.Folders {
		if f.Name == name {
			return f, true
		}
	}
	return FolderCfg{}, false
}
