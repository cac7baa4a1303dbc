// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016 Datadog, Inc.

// Package version contains versioning information for this module.
package version

// Tag specifies the current release tag. No code in this module attaches
// it to profiles or request headers.
const Tag = "v0.1.0"
