//go:build e2e

// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package e2e_test

import (
	"io"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func post(body string) string {
	resp, err := http.Post("http://"+address+"/command", "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	Expect(resp.StatusCode).To(Equal(http.StatusOK))

	out, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(out)
}

var _ = Describe("/command", Ordered, func() {
	It("lists the devices", func() {
		Expect(post(`{"command":"get_gpu_info","parameters":{}}`)).To(MatchJSON(`{"gpus":[
			{"name":"NVIDIA GeForce RTX 3080","vendor":"NVIDIA","device_id":1234,"adapter_index":0},
			{"name":"AMD Radeon RX 6800 XT","vendor":"AMD","device_id":5678,"adapter_index":1}]}`))
	})

	It("selects a device and samples it", func() {
		Expect(post(`{"command":"select_gpu_device","parameters":{"adapter_index":1}}`)).To(MatchJSON(`{"success":true}`))
		Expect(post(`{"command":"get_selected_gpu_device"}`)).To(MatchJSON(`{"adapter_index":1}`))
		Expect(post(`{"command":"get_performance_metrics","parameters":{}}`)).
			To(MatchJSON(`{"gpu_utilization":0.75,"memory_usage_mb":8192}`))
	})

	It("loads plugins in order", func() {
		Expect(post(`{"command":"load_plugin","parameters":{"plugin_name":"AudioEnhancer"}}`)).To(MatchJSON(`{"success":true}`))
		Expect(post(`{"command":"load_plugin","parameters":{"plugin_name":"ImageProcessor"}}`)).To(MatchJSON(`{"success":true}`))
		Expect(post(`{"command":"get_loaded_plugins"}`)).To(MatchJSON(`{"plugins":["AudioEnhancer","ImageProcessor"]}`))
	})

	It("describes and unloads a plugin", func() {
		Expect(post(`{"command":"get_plugin_info","parameters":{"plugin_name":"AudioEnhancer"}}`)).To(MatchJSON(
			`{"name":"AudioEnhancer","version":"0.9.0","description":"Enhances audio quality.","loaded":1}`))
		Expect(post(`{"command":"unload_plugin","parameters":{"plugin_name":"AudioEnhancer"}}`)).To(MatchJSON(`{"success":true}`))
		Expect(post(`{"command":"get_loaded_plugins"}`)).To(MatchJSON(`{"plugins":["ImageProcessor"]}`))
	})

	DescribeTable("reports unknown commands in-band",
		func(body, expected string) {
			Expect(post(body)).To(MatchJSON(expected))
		},
		Entry("unknown name", `{"command":"format_disk"}`, `{"error":"Unknown command: format_disk"}`),
		Entry("wrong case", `{"command":"GET_GPU_INFO"}`, `{"error":"Unknown command: GET_GPU_INFO"}`),
		Entry("undecodable body", `{{{`, `{"error":"Unknown command: "}`),
	)
})
