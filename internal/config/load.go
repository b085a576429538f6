package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cascade-irc/client/internal/logger"
	"gopkg.in/ini.v1"
)

const (
	defaultMaxHistory         = 500
	defaultHeadlessMaxHistory = 2000
	defaultLogFile            = "ircclient.log"
	defaultLogErrorFile       = "ircclient-error.log"
	defaultLogLevel           = "INFO"
	defaultLogErrorLevel      = "WARNING"
	defaultLogMaxBytes        = 5 * 1024 * 1024
	defaultLogBackupCount     = 3

	defaultDccDownloadDir         = "downloads"
	defaultDccUploadDir           = "uploads"
	defaultDccMaxFileSize         = 100 * 1024 * 1024
	defaultDccPortRangeStart      = 1024
	defaultDccPortRangeEnd        = 65535
	defaultDccChecksumAlgorithm   = "sha256"
	defaultDccPassiveTokenTimeout = 120 * time.Second
	defaultDccCleanupInterval     = 60 * time.Second
	defaultDccTransferMaxAge      = 72 * time.Hour
)

var defaultBlockedExtensions = []string{".exe", ".bat", ".com", ".scr", ".vbs", ".pif"}
var defaultDisabledScripts = []string{}

// knownKeys lists the recognized keys per section name so unmapped keys can
// be reported as warnings instead of silently ignored or treated as fatal.
var knownKeys = map[string][]string{
	"UI":       {"message_history_lines", "headless_message_history_lines", "colorscheme"},
	"Logging":  {"log_enabled", "log_file", "log_error_file", "log_level", "log_error_level", "log_max_bytes", "log_backup_count", "channel_log_enabled", "status_window_log_file"},
	"Features": {"enable_trigger_system"},
	"Scripts":  {"disabled_scripts"},
	"DCC": {
		"enabled", "download_dir", "upload_dir", "auto_accept", "max_file_size",
		"port_range_start", "port_range_end", "resume_enabled", "checksum_verify",
		"checksum_algorithm", "bandwidth_limit_send_kbps", "bandwidth_limit_recv_kbps",
		"blocked_extensions", "passive_token_timeout", "dcc_advertised_ip",
		"cleanup_interval_seconds", "transfer_max_age_seconds",
	},
	"Server": {
		"address", "port", "ssl", "verify_ssl_cert", "nick", "username", "realname",
		"channels", "server_password", "nickserv_password", "sasl_username",
		"sasl_password", "auto_connect", "desired_caps",
		"cap_overall_timeout_seconds", "cap_step_timeout_seconds",
		"sasl_timeout_seconds", "registration_timeout_seconds",
	},
}

// Load reads an INI file at path, producing a fully-defaulted Config. A
// missing file is not an error — it produces defaults-only Config with a
// warning, mirroring app_config.py's _load_config_file behavior of logging
// and continuing.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Networks: make(map[string]*ServerProfile),
		UI: UISettings{
			MaxHistory:         defaultMaxHistory,
			HeadlessMaxHistory: defaultHeadlessMaxHistory,
			ColorScheme:        "default",
		},
		Logging: LoggingSettings{
			Enabled:           true,
			File:              defaultLogFile,
			ErrorFile:         defaultLogErrorFile,
			Level:             defaultLogLevel,
			ErrorLevel:        defaultLogErrorLevel,
			MaxBytes:          defaultLogMaxBytes,
			BackupCount:       defaultLogBackupCount,
			ChannelLogEnabled: true,
		},
		Features: FeatureSettings{EnableTriggerSystem: true},
		Dcc: DccSettings{
			Enabled:             true,
			DownloadDir:         defaultDccDownloadDir,
			UploadDir:           defaultDccUploadDir,
			MaxFileSize:         defaultDccMaxFileSize,
			PortRangeStart:      defaultDccPortRangeStart,
			PortRangeEnd:        defaultDccPortRangeEnd,
			ResumeEnabled:       true,
			ChecksumVerify:      true,
			ChecksumAlgorithm:   defaultDccChecksumAlgorithm,
			BlockedExtensions:   append([]string(nil), defaultBlockedExtensions...),
			PassiveTokenTimeout: defaultDccPassiveTokenTimeout,
			CleanupInterval:     defaultDccCleanupInterval,
			TransferMaxAge:      defaultDccTransferMaxAge,
		},
		IgnorePatterns:  make(map[string]bool),
		DisabledScripts: append([]string(nil), defaultDisabledScripts...),
	}

	if _, err := os.Stat(path); err != nil {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("configuration file %q not found, using defaults", path))
		return cfg, nil
	}

	file, err := ini.LoadSources(ini.LoadOptions{AllowShadows: false, IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	for _, section := range file.Sections() {
		name := section.Name()
		switch {
		case name == ini.DefaultSection:
			continue
		case name == "UI":
			loadUI(cfg, section)
		case name == "Logging":
			loadLogging(cfg, section)
		case name == "Features":
			loadFeatures(cfg, section)
		case name == "Scripts":
			loadScripts(cfg, section)
		case name == "DCC":
			loadDcc(cfg, section)
		case name == "IgnoreList":
			loadIgnoreList(cfg, section)
		case strings.HasPrefix(name, "Server."):
			loadServer(cfg, section, strings.TrimPrefix(name, "Server."))
		default:
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown configuration section [%s]", name))
		}
	}

	warnUnknownKeys(cfg, file, "UI", "UI")
	warnUnknownKeys(cfg, file, "Logging", "Logging")
	warnUnknownKeys(cfg, file, "Features", "Features")
	warnUnknownKeys(cfg, file, "Scripts", "Scripts")
	warnUnknownKeys(cfg, file, "DCC", "DCC")
	for _, section := range file.Sections() {
		if strings.HasPrefix(section.Name(), "Server.") {
			warnUnknownKeys(cfg, file, section.Name(), "Server")
		}
	}

	pickDefaultNetwork(cfg)

	for _, warning := range cfg.Warnings {
		logger.Log.Warn().Str("component", "config").Msg(warning)
	}

	return cfg, nil
}

func warnUnknownKeys(cfg *Config, file *ini.File, sectionName, knownKeySet string) {
	if !file.HasSection(sectionName) {
		return
	}
	section, _ := file.GetSection(sectionName)
	allowed := make(map[string]bool, len(knownKeys[knownKeySet]))
	for _, k := range knownKeys[knownKeySet] {
		allowed[k] = true
	}
	for _, key := range section.Keys() {
		if !allowed[key.Name()] {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown key %q in section [%s]", key.Name(), sectionName))
		}
	}
}

func loadUI(cfg *Config, s *ini.Section) {
	cfg.UI.MaxHistory = s.Key("message_history_lines").MustInt(cfg.UI.MaxHistory)
	cfg.UI.HeadlessMaxHistory = s.Key("headless_message_history_lines").MustInt(cfg.UI.HeadlessMaxHistory)
	cfg.UI.ColorScheme = s.Key("colorscheme").MustString(cfg.UI.ColorScheme)
}

func loadLogging(cfg *Config, s *ini.Section) {
	cfg.Logging.Enabled = s.Key("log_enabled").MustBool(cfg.Logging.Enabled)
	cfg.Logging.File = s.Key("log_file").MustString(cfg.Logging.File)
	cfg.Logging.ErrorFile = s.Key("log_error_file").MustString(cfg.Logging.ErrorFile)
	cfg.Logging.Level = strings.ToUpper(s.Key("log_level").MustString(cfg.Logging.Level))
	cfg.Logging.ErrorLevel = strings.ToUpper(s.Key("log_error_level").MustString(cfg.Logging.ErrorLevel))
	cfg.Logging.MaxBytes = s.Key("log_max_bytes").MustInt64(cfg.Logging.MaxBytes)
	cfg.Logging.BackupCount = s.Key("log_backup_count").MustInt(cfg.Logging.BackupCount)
	cfg.Logging.ChannelLogEnabled = s.Key("channel_log_enabled").MustBool(cfg.Logging.ChannelLogEnabled)
	cfg.Logging.StatusWindowLogFile = s.Key("status_window_log_file").MustString(cfg.Logging.StatusWindowLogFile)
}

func loadFeatures(cfg *Config, s *ini.Section) {
	cfg.Features.EnableTriggerSystem = s.Key("enable_trigger_system").MustBool(cfg.Features.EnableTriggerSystem)
}

func loadScripts(cfg *Config, s *ini.Section) {
	if s.HasKey("disabled_scripts") {
		cfg.DisabledScripts = s.Key("disabled_scripts").Strings(",")
	}
}

func loadDcc(cfg *Config, s *ini.Section) {
	d := &cfg.Dcc
	d.Enabled = s.Key("enabled").MustBool(d.Enabled)
	d.DownloadDir = s.Key("download_dir").MustString(d.DownloadDir)
	d.UploadDir = s.Key("upload_dir").MustString(d.UploadDir)
	d.AutoAccept = s.Key("auto_accept").MustBool(d.AutoAccept)
	d.MaxFileSize = s.Key("max_file_size").MustInt64(d.MaxFileSize)
	d.PortRangeStart = s.Key("port_range_start").MustInt(d.PortRangeStart)
	d.PortRangeEnd = s.Key("port_range_end").MustInt(d.PortRangeEnd)
	d.ResumeEnabled = s.Key("resume_enabled").MustBool(d.ResumeEnabled)
	d.ChecksumVerify = s.Key("checksum_verify").MustBool(d.ChecksumVerify)
	d.ChecksumAlgorithm = strings.ToLower(s.Key("checksum_algorithm").MustString(d.ChecksumAlgorithm))
	d.BandwidthLimitSendKbps = s.Key("bandwidth_limit_send_kbps").MustInt(d.BandwidthLimitSendKbps)
	d.BandwidthLimitRecvKbps = s.Key("bandwidth_limit_recv_kbps").MustInt(d.BandwidthLimitRecvKbps)
	if s.HasKey("blocked_extensions") {
		d.BlockedExtensions = s.Key("blocked_extensions").Strings(",")
	}
	d.PassiveTokenTimeout = time.Duration(s.Key("passive_token_timeout").MustInt(int(d.PassiveTokenTimeout/time.Second))) * time.Second
	d.AdvertisedIP = s.Key("dcc_advertised_ip").MustString(d.AdvertisedIP)
	d.CleanupInterval = time.Duration(s.Key("cleanup_interval_seconds").MustInt(int(d.CleanupInterval/time.Second))) * time.Second
	d.TransferMaxAge = time.Duration(s.Key("transfer_max_age_seconds").MustInt(int(d.TransferMaxAge/time.Second))) * time.Second
}

func loadIgnoreList(cfg *Config, s *ini.Section) {
	for _, key := range s.Keys() {
		pattern := strings.ToLower(strings.TrimSpace(key.Name()))
		if pattern != "" {
			cfg.IgnorePatterns[pattern] = true
		}
	}
}

func loadServer(cfg *Config, s *ini.Section, id string) {
	if strings.TrimSpace(id) == "" {
		cfg.Warnings = append(cfg.Warnings, "skipping server section with empty id")
		return
	}
	profile := &ServerProfile{Name: id}
	profile.Info.Host = s.Key("address").MustString("")
	profile.Info.TLS = s.Key("ssl").MustBool(false)
	defaultPort := 6667
	if profile.Info.TLS {
		defaultPort = 6697
	}
	profile.Info.Port = s.Key("port").MustInt(defaultPort)
	profile.Info.VerifyCert = s.Key("verify_ssl_cert").MustBool(true)
	profile.Info.Nick = s.Key("nick").MustString("")
	profile.Info.Username = s.Key("username").MustString("")
	profile.Info.RealName = s.Key("realname").MustString("")
	if s.HasKey("channels") {
		profile.Info.AutoJoin = s.Key("channels").Strings(",")
	}
	profile.Info.ServerPassword = s.Key("server_password").MustString("")
	profile.Info.NickservPassword = s.Key("nickserv_password").MustString("")
	profile.Info.SaslUsername = s.Key("sasl_username").MustString("")
	profile.Info.SaslPassword = s.Key("sasl_password").MustString("")
	profile.AutoConnect = s.Key("auto_connect").MustBool(false)
	if s.HasKey("desired_caps") {
		profile.DesiredCaps = s.Key("desired_caps").Strings(",")
	}
	profile.Timeouts.CapOverall = time.Duration(s.Key("cap_overall_timeout_seconds").MustInt(0)) * time.Second
	profile.Timeouts.CapStep = time.Duration(s.Key("cap_step_timeout_seconds").MustInt(0)) * time.Second
	profile.Timeouts.Sasl = time.Duration(s.Key("sasl_timeout_seconds").MustInt(0)) * time.Second
	profile.Timeouts.Registration = time.Duration(s.Key("registration_timeout_seconds").MustInt(0)) * time.Second

	profile.applyDefaults()
	profile.Info.RequestedCaps = profile.DesiredCaps
	cfg.Networks[id] = profile
}

// pickDefaultNetwork mirrors app_config.py's fallback: a network with
// auto_connect=true wins (when several are marked, which one is picked
// follows map iteration order and is not defined); if none is marked, the
// alphabetically first configured network becomes the default so the
// client has somewhere to connect.
func pickDefaultNetwork(cfg *Config) {
	for name, profile := range cfg.Networks {
		if profile.AutoConnect {
			cfg.DefaultNetwork = name
			return
		}
	}
	if len(cfg.Networks) == 0 {
		return
	}
	names := make([]string, 0, len(cfg.Networks))
	for name := range cfg.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	cfg.DefaultNetwork = names[0]
	cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("no network has auto_connect=true, defaulting to %q", cfg.DefaultNetwork))
}
