package service

import (
	"github.com/smartcity/hardbruecke/internal/domain"
)

// DataRepository is re-exported from domain for convenience
type DataRepository = domain.DataRepository
