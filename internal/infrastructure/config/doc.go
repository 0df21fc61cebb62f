// Package config handles loading and validating the Particle bridge configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The bridge is commonly deployed as a container configured only through
// the environment. Load("") skips the file and builds the configuration
// from defaults plus environment variables.
//
// Security Considerations:
//   - Access tokens should be set via environment variables (PARTICLE_TOKEN, INFLUX_TOKEN)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("PARTICLE_BRIDGE_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Particle.DeviceID)
package config
