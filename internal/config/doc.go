// Package config loads the sensor hub's YAML configuration.
//
// The file is optional. Defaults match the values the hub has always shipped
// with (port 8080, 10 display units, 30s heartbeat timeout) and any key in the
// file overrides them:
//
//	host: 0.0.0.0
//	port: 8080
//	max_clients: 10
//	heartbeat_timeout: 30s
//	heartbeat_interval: 10s
//	cleanup_interval: 1m
//	write_timeout: 10s
//	max_frame_size: 1048576
//	capture_dir: /var/lib/sensorhub/captures
//	mdns:
//	  enabled: true
//	  instance: jeep-hub
//	feed:
//	  enabled: true
//	  addr: ":8081"
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/sensorhub/config.yaml or $HOME/.config/sensorhub/config.yaml
//   - macOS: $HOME/.config/sensorhub/config.yaml
//   - Windows: %LOCALAPPDATA%\sensorhub\config.yaml
//
// # Usage Example
//
//	cfg, err := config.Load("") // default location, defaults if absent
//	if err != nil {
//	    return err
//	}
//	srv := server.New(cfg, handler)
package config
