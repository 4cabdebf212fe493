// conf/defaults.go default values for settings
package conf

import (
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// DefaultLabels are the detector class names indexed by model output class.
var DefaultLabels = []string{"normal", "benign", "malignant", "nodule", "mass", "suspicious"}

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowedorigins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.shutdowntimeout", 30*time.Second)
	v.SetDefault("server.maxconnections", 1024)
	v.SetDefault("server.ratelimit.enabled", true)
	v.SetDefault("server.ratelimit.uploadsperminute", 30)
	v.SetDefault("server.ratelimit.burst", 10)

	v.SetDefault("database.url", "sqlite://data/pneumai.db")
	v.SetDefault("database.urlfile", "")
	v.SetDefault("database.debug", false)
	v.SetDefault("database.slowthreshold", 200*time.Millisecond)

	v.SetDefault("model.path", "models/yolov8_lung.tflite")
	v.SetDefault("model.version", "yolov8-lung-1")
	v.SetDefault("model.inputsize", 640)
	v.SetDefault("model.confidencethreshold", 0.25)
	v.SetDefault("model.iouthreshold", 0.45)
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.usexnnpack", true)
	v.SetDefault("model.labels", DefaultLabels)

	v.SetDefault("ingest.maxuploadsizemb", 50)
	v.SetDefault("ingest.allowedtypes", []string{"image/jpeg", "image/png", "image/bmp", "image/tiff", "image/webp", "application/dicom"})
	v.SetDefault("ingest.maxpixels", 89_478_485)
	v.SetDefault("ingest.workers", runtime.NumCPU())
	v.SetDefault("ingest.inferencetimeout", 60*time.Second)
	v.SetDefault("ingest.digest", "sha256")

	v.SetDefault("scans.visibility", "all")

	v.SetDefault("events.buffersize", 1000)
	v.SetDefault("events.workers", 2)
	v.SetDefault("events.subscriberbuffer", 64)
	v.SetDefault("events.sendtimeout", 3*time.Second)

	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.jwtsecretfile", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.cachettl", 5*time.Minute)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "pneumai")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.passwordfile", "")
	v.SetDefault("mqtt.topic", "pneumai/events")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.dsnfile", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/pneumai.log")
	v.SetDefault("logging.file.maxsize", 100)
	v.SetDefault("logging.file.maxage", 30)
	v.SetDefault("logging.file.maxbackups", 10)
	v.SetDefault("logging.file.compress", false)
	v.SetDefault("logging.modulelevels", map[string]string{})
}
