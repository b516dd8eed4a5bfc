package uploader_test

import (
	"testing"

	"github.com/shuliangfu/upload/errors"
	"github.com/shuliangfu/upload/objectstorage"
	"github.com/shuliangfu/upload/uploader"
)

const mib = int64(1024 * 1024)

func TestPlanPartsCoverage(t *testing.T) {
	cases := []struct {
		fileSize, partSize int64
		sizes              []int64
	}{
		{15 * mib, 5 * mib, []int64{5 * mib, 5 * mib, 5 * mib}},
		{11 * mib, 5 * mib, []int64{5 * mib, 5 * mib, 1 * mib}},
		{5 * mib, 5 * mib, []int64{5 * mib}},
		{5*mib + 1, 5 * mib, []int64{5 * mib, 1}},
	}
	for _, c := range cases {
		plan, err := uploader.PlanParts(c.fileSize, c.partSize)
		if err != nil {
			t.Fatal(err)
		}
		if len(plan) != len(c.sizes) {
			t.Fatalf("fileSize=%d partSize=%d: unexpected part count %d", c.fileSize, c.partSize, len(plan))
		}
		var offset int64
		for i, part := range plan {
			if part.PartNumber != int64(i)+1 {
				t.Fatalf("part number must start at 1 and be contiguous, got %d at index %d", part.PartNumber, i)
			}
			if part.Offset != offset {
				t.Fatalf("part %d: gap or overlap at offset %d", part.PartNumber, part.Offset)
			}
			if part.Size != c.sizes[i] {
				t.Fatalf("part %d: unexpected size %d", part.PartNumber, part.Size)
			}
			offset += part.Size
		}
		if offset != c.fileSize {
			t.Fatalf("plan covers %d bytes, want %d", offset, c.fileSize)
		}
		if plan.TotalSize() != c.fileSize {
			t.Fatal("unexpected total size")
		}
	}
}

func TestPlanPartsBounds(t *testing.T) {
	if _, err := uploader.PlanParts(0, 5*mib); err == nil {
		t.Fatal("empty sources must be rejected, the merge request would carry no parts")
	} else if _, ok := err.(errors.EmptySourceError); !ok {
		t.Fatalf("unexpected error type: %v", err)
	}

	if _, err := uploader.PlanParts(100*mib, 1*mib); err == nil {
		t.Fatal("part size below the provider minimum must be rejected")
	} else if _, ok := err.(errors.InvalidPartSizeError); !ok {
		t.Fatalf("unexpected error type: %v", err)
	}

	if _, err := uploader.PlanParts(100*mib, 6*1024*mib); err == nil {
		t.Fatal("part size above the provider maximum must be rejected")
	}

	tooMany := (objectstorage.MaxPartCount + 1) * objectstorage.MinPartSize
	if _, err := uploader.PlanParts(tooMany, objectstorage.MinPartSize); err == nil {
		t.Fatal("plans above the provider part count limit must be rejected")
	} else if _, ok := err.(errors.TooManyPartsError); !ok {
		t.Fatalf("unexpected error type: %v", err)
	}
}
