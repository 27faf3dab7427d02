// Package config provides configuration management for stackctl.
//
// Configuration is loaded in layers, later layers overriding earlier ones:
//
//  1. Default configuration (embedded in the binary): the postgres, redis,
//     web platform and cloudflared stack.
//  2. User configuration (~/.config/stackctl/config.yaml).
//  3. Project configuration (./.stackctl/config.yaml).
//
// An explicit --config file replaces layers 2 and 3.
//
// Services are merged by name. A service with a known name replaces the
// default definition entirely; new names are appended in file order. The
// final list is validated and sorted by StartOrder.
//
// # Example
//
//	project: accesswash
//	services:
//	  - name: app
//	    dependsOn: [db, cache]
//	    readiness:
//	      kind: http
//	      target: http://localhost:8000/ping/
//	      timeout: 3s
//	    retry:
//	      maxAttempts: 20
//	      interval: 3s
//	    container:
//	      image: registry.example.com/accesswash:dev
//	      ports: ["8000:8000"]
//	tunnel:
//	  routes:
//	    - hostname: api.example.org
//	      service: http://localhost:8000
//	  fallback: http_status:404
package config
