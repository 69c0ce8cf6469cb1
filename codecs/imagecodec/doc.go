// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package imagecodec is a codec module for codecworker pools.
//
// Each worker loads its own module instance. The module reads image headers,
// decodes PNG, JPEG, GIF, BMP, TIFF and WebP input into 8-bit non-premultiplied
// RGBA pixels, encodes pixels back into a container format, and offers resize,
// rotate and summarize operations on decoded pixels. Pixel buffers in results are reported as
// transferables, so large frames are handed over instead of copied.
//
//	client := codecworker.NewClient()
//	defer client.Terminate()
//	err := client.Init(ctx, &codecworker.Config{
//		Module:      imagecodec.NewFactory(),
//		PoolSize:    4,
//		InitPayload: imagecodec.InitOptions{Threads: 2},
//	})
//	img, err := codecworker.Call(ctx, client, imagecodec.Decode, imagecodec.DecodeRequest{Data: file})
package imagecodec
