// Package bdportal provides embedded defaults for production builds.
package bdportal

import _ "embed"

// RoutesYAML is the default route authorization table. ROUTES_FILE overrides it at runtime.
//
//go:embed routes.yaml
var RoutesYAML []byte
