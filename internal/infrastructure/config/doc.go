// Package config handles loading and validating devicelink configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The defaults describe a working two-device installation (esp32_1 and
// esp32_2 under the "mosquito" namespace) talking to a broker on localhost,
// so a missing config file is not an error.
//
// Broker credentials and the InfluxDB token should be set through
// DEVICELINK_* environment variables rather than committed to the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Devices.Namespace)
package config
