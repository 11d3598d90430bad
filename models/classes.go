package models

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/models/model"
)

// ClassSet is an ordered list of labels indexed by the class IDs a model emits.
type ClassSet struct {
	// Family is the naming convention the labels follow.
	Family model.Family
	// Names holds one label per class ID.
	Names []string
	// index for fast lookup by name.
	index map[string]int
}

// NewClassSet builds a class set and its name index.
func NewClassSet(family model.Family, names []string) *ClassSet {
	s := &ClassSet{Family: family, Names: names, index: make(map[string]int, len(names))}
	for i, n := range names {
		if _, ok := s.index[n]; !ok {
			s.index[n] = i
		}
	}
	return s
}

// Len returns the number of classes.
func (s *ClassSet) Len() int {
	return len(s.Names)
}

// Name returns the label for a class ID, or "class_<id>" when the ID is out of range.
func (s *ClassSet) Name(id int) string {
	if id < 0 || id >= len(s.Names) {
		return fmt.Sprintf("class_%d", id)
	}
	return s.Names[id]
}

// Index returns the class ID for a label.
func (s *ClassSet) Index(name string) (int, error) {
	idx, ok := s.index[name]
	if !ok {
		return -1, errors.Errorf("name %q not found in %q classes", name, s.Family)
	}
	return idx, nil
}

// YOLOClasses is the 80 COCO classes without background. YOLO models index directly into
// this zero-based list.
var YOLOClasses = NewClassSet(model.ModelFamilyYOLO, []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe",
	"backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard",
	"sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake",
	"chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop",
	"mouse", "remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
})

// ClassSetFor returns the built-in class set of a model family.
func ClassSetFor(family model.Family) (*ClassSet, error) {
	switch family {
	case model.ModelFamilyYOLO, "":
		return YOLOClasses, nil
	default:
		return nil, errors.Errorf("no class set registered for family %q", family)
	}
}

// LoadClassSet reads one label per line from path. Blank lines and lines starting with # are
// skipped.
//
// Arguments:
//   - path: The labels file.
//   - family: The family recorded on the returned set.
//
// Returns:
//   - *ClassSet: The labels in file order.
//   - error: An error if the file cannot be read or holds no labels.
func LoadClassSet(path string, family model.Family) (*ClassSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open classes file")
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read classes file")
	}
	if len(names) == 0 {
		return nil, errors.Errorf("classes file %s holds no labels", path)
	}

	return NewClassSet(family, names), nil
}
