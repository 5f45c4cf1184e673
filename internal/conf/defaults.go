package conf

import (
	"github.com/spf13/viper"
)

// Default values referenced outside this package
const (
	DefaultPort        = 5005
	DefaultMaxDatagram = 65536
	DefaultChunkSize   = 60000
	DefaultInputSize   = 224
	DefaultThreshold   = 0.01
)

// setDefaultConfig registers every default on v. Durations are given as
// strings so a written default config stays human-readable.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("main.name", "FoodNet")
	v.SetDefault("main.debug", false)

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.maxdatagram", DefaultMaxDatagram)
	v.SetDefault("server.chunksize", DefaultChunkSize)
	v.SetDefault("server.transfertimeout", "10s")
	v.SetDefault("server.maxtransferbytes", 16*1024*1024)
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.queuesize", 64)
	v.SetDefault("server.requesttimeout", "30s")
	v.SetDefault("server.ratelimit.enabled", false)
	v.SetDefault("server.ratelimit.persecond", 10.0)
	v.SetDefault("server.ratelimit.burst", 20)

	v.SetDefault("model.path", "food_detection_model.tflite")
	v.SetDefault("model.labelpath", "")
	v.SetDefault("model.threshold", DefaultThreshold)
	v.SetDefault("model.inputsize", DefaultInputSize)
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.usexnnpack", false)

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.sqlite.path", "foodnet.db")
	v.SetDefault("storage.mysql.host", "localhost")
	v.SetDefault("storage.mysql.port", 3306)
	v.SetDefault("storage.mysql.username", "")
	v.SetDefault("storage.mysql.password", "")
	v.SetDefault("storage.mysql.database", "foodnet")
	v.SetDefault("storage.imagedir", "UECFOOD100/verified_images")
	v.SetDefault("storage.slowquery", "200ms")

	v.SetDefault("retrain.enabled", false)
	v.SetDefault("retrain.command", []string{})
	v.SetDefault("retrain.workdir", "")
	v.SetDefault("retrain.timeout", "10m")
	v.SetDefault("retrain.csvpath", "data_info.csv")
	v.SetDefault("retrain.queuesize", 4)
	v.SetDefault("retrain.history", 50)
	v.SetDefault("retrain.notify.enabled", false)
	v.SetDefault("retrain.notify.urls", []string{})
	v.SetDefault("retrain.notify.timeout", "10s")
	v.SetDefault("retrain.notify.onlyfailures", false)

	v.SetDefault("bridge.broker", "tcp://broker.hivemq.com:1883")
	v.SetDefault("bridge.clientid", "")
	v.SetDefault("bridge.username", "")
	v.SetDefault("bridge.password", "")
	v.SetDefault("bridge.qos", 0)
	v.SetDefault("bridge.target", "127.0.0.1:5005")
	v.SetDefault("bridge.timeout", "10s")
	v.SetDefault("bridge.topics.images", "project/images")
	v.SetDefault("bridge.topics.confirmedlabels", "project/confirmed_labels")
	v.SetDefault("bridge.topics.predictions", "project/predictions")

	v.SetDefault("webserver.enabled", false)
	v.SetDefault("webserver.listen", "127.0.0.1:8080")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/foodnet.log")
	v.SetDefault("logging.file_output.level", "info")
}
