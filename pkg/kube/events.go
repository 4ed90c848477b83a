package kube

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/util/duration"
)

// PodEvents returns the events of a pod rendered like the Events section
// of kubectl describe, oldest first. A pod without events yields "".
func (c *Client) PodEvents(ctx context.Context, namespace, pod string) (string, error) {
	selector := fields.AndSelectors(
		fields.OneTermEqualSelector("involvedObject.kind", "Pod"),
		fields.OneTermEqualSelector("involvedObject.name", pod),
	)
	list, err := c.clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{
		FieldSelector: selector.String(),
	})
	if err != nil {
		return "", fmt.Errorf("listing events for pod %s/%s: %w", namespace, pod, err)
	}

	events := make([]corev1.Event, 0, len(list.Items))
	for _, ev := range list.Items {
		// field selectors are not honoured by every backend
		if ev.InvolvedObject.Name != pod {
			continue
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return "", nil
	}

	sort.SliceStable(events, func(i, j int) bool {
		return eventTime(events[i]).Before(eventTime(events[j]))
	})

	now := c.clock.Now()
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Type\tReason\tAge\tFrom\tMessage")
	fmt.Fprintln(w, "----\t------\t----\t----\t-------")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ev.Type,
			ev.Reason,
			eventAge(ev, now),
			eventSource(ev),
			strings.TrimSpace(ev.Message),
		)
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("formatting events: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func eventTime(ev corev1.Event) time.Time {
	switch {
	case !ev.LastTimestamp.IsZero():
		return ev.LastTimestamp.Time
	case !ev.EventTime.IsZero():
		return ev.EventTime.Time
	case !ev.FirstTimestamp.IsZero():
		return ev.FirstTimestamp.Time
	default:
		return ev.CreationTimestamp.Time
	}
}

func eventAge(ev corev1.Event, now time.Time) string {
	t := eventTime(ev)
	if t.IsZero() {
		return "<unknown>"
	}
	age := duration.HumanDuration(now.Sub(t))
	if ev.Count > 1 {
		return fmt.Sprintf("%s (x%d)", age, ev.Count)
	}
	return age
}

func eventSource(ev corev1.Event) string {
	if ev.Source.Component != "" {
		return ev.Source.Component
	}
	return ev.ReportingController
}

// PodLogs returns the last tail lines of a pod's logs.
func (c *Client) PodLogs(ctx context.Context, namespace, pod string, tail int64) (string, error) {
	opts := &corev1.PodLogOptions{}
	if tail > 0 {
		opts.TailLines = &tail
	}
	raw, err := c.clientset.CoreV1().Pods(namespace).GetLogs(pod, opts).DoRaw(ctx)
	if err != nil {
		return "", fmt.Errorf("reading logs of pod %s/%s: %w", namespace, pod, err)
	}
	return string(raw), nil
}
