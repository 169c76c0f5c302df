package app

import (
	"github.com/specialistvlad/jobgrid/internal/registry"
	"github.com/specialistvlad/jobgrid/modules/arith"
	"github.com/specialistvlad/jobgrid/modules/env_vars"
	"github.com/specialistvlad/jobgrid/modules/http_request"
	"github.com/specialistvlad/jobgrid/modules/print"
	"github.com/specialistvlad/jobgrid/modules/s3"
	"github.com/specialistvlad/jobgrid/modules/shell"
)

// CoreModules is the definitive list of all modules that are compiled into
// the jobgrid binary. The exec-unit entrypoint resolves functions from the
// same list, so every host must run the same build.
var CoreModules = []registry.Module{
	&arith.Module{},
	&env_vars.Module{},
	&http_request.Module{},
	&print.Module{},
	&s3.Module{},
	&shell.Module{},
}
