//go:build e2e

// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package e2e_test

import (
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("endpoints", func() {
	DescribeTable("answer 200", func(path string) {
		resp, err := http.Get("http://" + address + path)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	},
		Entry("landing page", "/"),
		Entry("health", "/health"),
		Entry("detailed health", "/health/detailed"),
		Entry("metrics", "/metrics"),
	)

	It("reports liveness as plain OK", func() {
		resp, err := http.Get("http://" + address + "/health")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("OK"))
	})

	It("reports component status", func() {
		resp, err := http.Get("http://" + address + "/health/detailed")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var health map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&health)).To(Succeed())
		Expect(health).To(HaveKeyWithValue("status", "ok"))
		Expect(health).To(HaveKeyWithValue("gpu", HaveKeyWithValue("backend", "placeholder")))
	})
})
