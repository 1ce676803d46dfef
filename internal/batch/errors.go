package batch

import (
	"fmt"

	"imgshift/internal/services"
)

var (
	ErrNotFound          = fmt.Errorf("%w: batch not found", services.ErrNotFound)
	ErrBatchClosed       = fmt.Errorf("%w: batch is closed", services.ErrConflict)
	ErrBatchFull         = fmt.Errorf("%w: batch is full", services.ErrValidation)
	ErrNoItems           = fmt.Errorf("%w: batch has no items", services.ErrValidation)
	ErrNoTarget          = fmt.Errorf("%w: target format not selected", services.ErrValidation)
	ErrAlreadyConverting = fmt.Errorf("%w: conversion already running", services.ErrConflict)
	ErrNotConverting     = fmt.Errorf("%w: no conversion running", services.ErrConflict)
	ErrLeaseInvalid      = fmt.Errorf("%w: lease is not held", services.ErrConflict)
)
