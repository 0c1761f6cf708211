package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ReservationURL string `yaml:"reservation_url"`
	HistoryURL     string `yaml:"history_url"`

	BrowserProfilePath string `yaml:"browser_profile_path"`
	ChromeBin          string `yaml:"chrome_bin"`
	UserAgent          string `yaml:"user_agent"`

	PageLoadTimeout  int `yaml:"page_load_timeout"`
	ChallengeTimeout int `yaml:"challenge_timeout"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	Headless bool `yaml:"headless"`

	ListOnly  bool `yaml:"list_only"`
	DebugMode bool `yaml:"debug_mode"`

	Retry  RetryConfig  `yaml:"retry"`
	OCR    OCRConfig    `yaml:"ocr"`
	Server ServerConfig `yaml:"server"`
	Site   SiteConfig   `yaml:"site"`

	Booking BookingRequest `yaml:"booking"`

	Selectors map[Field]string `yaml:"selectors"`
}

type RetryConfig struct {
	PageLoadAttempts     int `yaml:"page_load_attempts"`
	PageLoadDelaySeconds int `yaml:"page_load_delay_seconds"`

	ChallengeRetries int `yaml:"challenge_retries"`
	RefreshDelayMs   int `yaml:"refresh_delay_ms"`

	SoldOutCooldownSeconds int `yaml:"sold_out_cooldown_seconds"`
	SoldOutRestarts        int `yaml:"sold_out_restarts"`
	SessionRestarts        int `yaml:"session_restarts"`

	RunAttempts        int `yaml:"run_attempts"`
	RunIntervalSeconds int `yaml:"run_interval_seconds"`
}

type OCRConfig struct {
	RemoteURL         string  `yaml:"remote_url"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	GeminiAPIKey string `yaml:"gemini_api_key,omitempty"`
	GeminiModel  string `yaml:"gemini_model"`

	// SecondaryFirst tries Gemini before the remote endpoint.
	SecondaryFirst bool `yaml:"secondary_first"`
	// Alternate flips the provider order on every retry within a page load.
	Alternate bool `yaml:"alternate"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password,omitempty"`
	SecretKey     string `yaml:"secret_key,omitempty"`
	LogLines      int    `yaml:"log_lines"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// SiteConfig holds the booking site's lookup tables.
type SiteConfig struct {
	Stations        map[string]int    `yaml:"stations"`
	TicketCodes     map[string]string `yaml:"ticket_codes"`
	CarTypes        map[string]int    `yaml:"car_types"`
	SeatPreferences map[string]int    `yaml:"seat_preferences"`
	MaxTicketNum    int               `yaml:"max_ticket_num"`
}

func DefaultConfig() *Config {
	userDataDir := getUserDataDir()

	return &Config{
		ReservationURL:     "https://irs.thsrc.com.tw/IMINT/",
		HistoryURL:         "https://irs.thsrc.com.tw/IMINT/?wicket:bookmarkablePage=:tw.com.mitac.webapp.thsr.viewer.History",
		BrowserProfilePath: filepath.Join(userDataDir, "browser-profile"),
		UserAgent:          "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		PageLoadTimeout:    30,
		ChallengeTimeout:   30,
		ViewportWidth:      1280,
		ViewportHeight:     900,
		Headless:           true,
		Retry: RetryConfig{
			PageLoadAttempts:       3,
			PageLoadDelaySeconds:   3,
			ChallengeRetries:       20,
			RefreshDelayMs:         1000,
			SoldOutCooldownSeconds: 30,
			SoldOutRestarts:        10,
			SessionRestarts:        3,
			RunAttempts:            50,
			RunIntervalSeconds:     5,
		},
		OCR: OCRConfig{
			RemoteURL:         "https://holey.cc/api/ocr",
			TimeoutSeconds:    30,
			RequestsPerSecond: 2,
			GeminiModel:       "gemini-2.0-flash",
			Alternate:         true,
		},
		Server: ServerConfig{
			Addr:          ":8080",
			LogLines:      100,
			TokenTTLHours: 24,
		},
		Site: SiteConfig{
			Stations: map[string]int{
				"Nangang":  1,
				"Taipei":   2,
				"Banqiao":  3,
				"Taoyuan":  4,
				"Hsinchu":  5,
				"Miaoli":   6,
				"Taichung": 7,
				"Changhua": 8,
				"Yunlin":   9,
				"Chiayi":   10,
				"Tainan":   11,
				"Zuouing":  12,
			},
			TicketCodes: map[string]string{
				"adult":    "F",
				"child":    "H",
				"disabled": "W",
				"elder":    "E",
				"college":  "P",
				"teenager": "T",
			},
			CarTypes: map[string]int{
				"normal":   0,
				"business": 1,
			},
			SeatPreferences: map[string]int{
				"none":   0,
				"window": 1,
				"aisle":  2,
			},
			MaxTicketNum: 10,
		},
		Booking: BookingRequest{
			StartStation: "Taipei",
			DestStation:  "Zuouing",
			OutboundTime: "10:00",
			Tickets:      TicketCounts{Adult: 1},
			CarType:      "normal",
		},
		Selectors: DefaultSelectors(),
	}
}

// DefaultSelectors maps every logical field to its selector on irs.thsrc.com.tw.
func DefaultSelectors() map[Field]string {
	return map[Field]string{
		FieldCaptchaImage:   "img.captcha-img",
		FieldCaptchaRefresh: "a[id*='reCodeLink']",
		FieldMethodTime:     "#bookingMethod1",
		FieldMethodTrainNo:  "#bookingMethod2",
		FieldTrainNo:        "input[name='toTrainIDInputField']",
		FieldStartStation:   "select[name='selectStartStation']",
		FieldDestStation:    "select[name='selectDestinationStation']",
		FieldTravelDate:     "input[name='toTimeInputField']",
		FieldTravelTime:     "select[name='toTimeTable']",
		FieldCarClass:       "input[name='trainCon:trainRadioGroup']",
		FieldSeatPreference: "input[name='seatCon:seatRadioGroup']",
		FieldTicketAdult:    "select[name='ticketPanel:rows:0:ticketAmount']",
		FieldTicketChild:    "select[name='ticketPanel:rows:1:ticketAmount']",
		FieldTicketDisabled: "select[name='ticketPanel:rows:2:ticketAmount']",
		FieldTicketElder:    "select[name='ticketPanel:rows:3:ticketAmount']",
		FieldTicketCollege:  "select[name='ticketPanel:rows:4:ticketAmount']",
		FieldTicketTeenager: "select[name='ticketPanel:rows:5:ticketAmount']",
		FieldSecurityCode:   "input[name='homeCaptcha:securityCode']",
		FieldSubmit:         "[name='SubmitButton']",
		FieldTrainOption:    "input[name='TrainQueryDataViewPanel:TrainGroup']",
		FieldPassengerID:    "input[name='dummyId']",
		FieldPhone:          "input[name='dummyPhone']",
		FieldEmail:          "input[name='email']",
		FieldMemberRadio:    "input[name='TicketMemberSystemInputPanel:TakerMemberSystemDataView:memberSystemRadioGroup']:not([value=''])",
		FieldMemberNumber:   "input[name='TicketMemberSystemInputPanel:TakerMemberSystemDataView:memberSystemRadioGroup:memberShipNumber']",
		FieldAgree:          "input[name='agree']",
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		config.applyEnv()
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	// A partial selectors block only overrides the fields it names.
	defaults := DefaultSelectors()
	for f, sel := range config.Selectors {
		defaults[f] = sel
	}
	config.Selectors = defaults

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// LoadEnv reads a .env file from the working directory if there is one.
func LoadEnv() bool {
	return godotenv.Load() == nil
}

// applyEnv lets the environment override secrets and deployment settings.
func (c *Config) applyEnv() {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.OCR.GeminiAPIKey = v
	}
	if v := os.Getenv("APP_PASSWORD"); v != "" {
		c.Server.Password = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		c.Server.SecretKey = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("CHROME_BIN"); v != "" {
		c.ChromeBin = v
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Headless = b
		}
	}
}

func (c *Config) Validate() error {
	if c.ReservationURL == "" {
		return fmt.Errorf("reservation_url is required")
	}
	if c.Retry.PageLoadAttempts < 1 {
		return fmt.Errorf("retry.page_load_attempts must be at least 1")
	}
	if c.Retry.ChallengeRetries < 1 {
		return fmt.Errorf("retry.challenge_retries must be at least 1")
	}
	if c.Retry.RunAttempts < 1 {
		return fmt.Errorf("retry.run_attempts must be at least 1")
	}
	if c.Site.MaxTicketNum < 1 {
		return fmt.Errorf("site.max_ticket_num must be at least 1")
	}
	return nil
}

// Selector returns the CSS selector configured for f.
func (c *Config) Selector(f Field) string {
	if sel, ok := c.Selectors[f]; ok && sel != "" {
		return sel
	}
	return DefaultSelectors()[f]
}

func (c *Config) pageLoadTimeout() time.Duration {
	return time.Duration(c.PageLoadTimeout) * time.Second
}

func (c *Config) challengeTimeout() time.Duration {
	return time.Duration(c.ChallengeTimeout) * time.Second
}

func getUserDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./railbot-data"
	}
	return filepath.Join(home, ".railbot")
}
