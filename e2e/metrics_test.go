//go:build e2e

// SPDX-FileCopyrightText: 2025 The Archetype Authors
// SPDX-License-Identifier: Apache-2.0

package e2e_test

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func scrape() map[string]*dto.MetricFamily {
	resp, err := http.Get("http://" + address + "/metrics")
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	Expect(resp.StatusCode).To(Equal(http.StatusOK))

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return families
}

func counterFor(mf *dto.MetricFamily, labels map[string]string) float64 {
	for _, m := range mf.GetMetric() {
		matched := 0
		for _, l := range m.GetLabel() {
			if v, ok := labels[l.GetName()]; ok && v == l.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

var _ = Describe("/metrics", func() {
	It("exposes build and device info", func() {
		families := scrape()
		Expect(families).To(HaveKey("archetype_build_info"))
		Expect(families).To(HaveKey("archetype_gpu_device_info"))
		Expect(families["archetype_gpu_device_info"].GetMetric()).To(HaveLen(2))
	})

	It("counts dispatched commands", func() {
		labels := map[string]string{"command": "get_gpu_info", "outcome": "success"}
		before := counterFor(scrape()["archetype_commands_total"], labels)

		post(`{"command":"get_gpu_info"}`)
		post(`{"command":"get_gpu_info"}`)

		after := counterFor(scrape()["archetype_commands_total"], labels)
		Expect(after - before).To(BeNumerically("==", 2))
	})
})
