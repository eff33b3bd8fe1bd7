// Package config provides configuration management for rowflow.
//
// # Key Features
//
// - BaseConfig: single configuration structure shared by every component
// - Structured sections: Performance, Sort, Cache, Join, Observability
// - Environment variable substitution with ${VAR_NAME} syntax
// - Automatic defaults and validation
//
// # Usage
//
//	cfg, err := config.LoadBaseConfig("rowflow.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// ## Environment Variable Substitution
//
//	# rowflow.yaml
//	name: orders
//	cache:
//	  type: bolt
//	  path: ${ROWFLOW_CACHE}/spill.db
package config
