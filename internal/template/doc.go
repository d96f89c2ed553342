// Package template loads CloudFormation templates for the t4dev CLI.
//
// Templates may be YAML, JSON, or JSON with comments (JSONC). YAML is parsed
// with gopkg.in/yaml.v3 at the Node level so that CloudFormation short-form
// intrinsic tags (!Ref, !GetAtt, !Sub, ...) do not need custom decoders.
// JSONC is normalised with github.com/tidwall/jsonc, because the
// orchestration API rejects comments. Otherwise the body is submitted verbatim.
//
// The package only inspects the template enough to check that the parameters
// the CLI supplies are declared. Resource semantics are left to the service.
package template
