package config

const (
	defaultUploadDir             = "~/.local/share/markergate/uploads"
	defaultOutputDir             = "~/.local/share/markergate/outputs"
	defaultLogDir                = "~/.local/share/markergate/logs"
	defaultLockDir               = "~/.local/share/markergate/run"
	defaultEnvFile               = ".env"
	defaultAPIBind               = "127.0.0.1:8000"
	defaultConverterCommand      = "marker_single"
	defaultExpectedExtension     = "md"
	defaultGPUCommand            = "nvidia-smi"
	defaultTemperatureThresholdC = 80
	defaultMinFreeMemoryMB       = 2048
	defaultPollIntervalSeconds   = 5
	defaultWaitTimeoutSeconds    = 600
	defaultQueryTimeoutSeconds   = 10
	defaultMaxUploadMB           = 200
	defaultRetentionKeep         = 50
	defaultSheetsPerFile         = 30
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogMaxSizeMB          = 5
	defaultLogMaxBackups         = 3
)

var defaultConverterFlags = []string{"--output_format", "markdown"}

var defaultAllowedExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp"}

// Default returns a Config populated with repository defaults. Converter.Command
// and Paths.APIBind stay empty so normalize can apply environment fallbacks.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadDir: defaultUploadDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			LockDir:   defaultLockDir,
			EnvFile:   defaultEnvFile,
		},
		Converter: Converter{
			Flags:             append([]string(nil), defaultConverterFlags...),
			ExpectedExtension: defaultExpectedExtension,
			ScrapeOutput:      true,
		},
		GPU: GPU{
			Command:               defaultGPUCommand,
			TemperatureThresholdC: defaultTemperatureThresholdC,
			MinFreeMemoryMB:       defaultMinFreeMemoryMB,
			PollIntervalSeconds:   defaultPollIntervalSeconds,
			WaitTimeoutSeconds:    defaultWaitTimeoutSeconds,
			QueryTimeoutSeconds:   defaultQueryTimeoutSeconds,
		},
		Admission: Admission{
			Enabled: true,
		},
		Uploads: Uploads{
			AllowedExtensions: append([]string(nil), defaultAllowedExtensions...),
			MaxUploadMB:       defaultMaxUploadMB,
			RetentionKeep:     defaultRetentionKeep,
		},
		Tables: Tables{
			SheetsPerFile: defaultSheetsPerFile,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
		},
	}
}
